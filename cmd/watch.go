package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/oss-stamp/internal/config"
	"github.com/naka-gawa/oss-stamp/internal/host"
	"github.com/naka-gawa/oss-stamp/internal/injection"
	"github.com/naka-gawa/oss-stamp/internal/navigation"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follows pages typed on stdin and keeps a live panel for the current one",
	Long: `Reads one command per line from stdin:

  <url>   navigate to a page (pull request or profile pages get a panel)
  back    go back in history
  retry   reload the current panel, bypassing cached metrics
  state   print the panel state
  quit    exit

Settings changes (token, theme) made with "config set" while watch runs are
picked up live: a new token drops cached metrics, a new theme repaints.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			shutdown := serveMetrics(addr, a)
			defer shutdown()
		}
		return runWatch(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func runWatch(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	term := host.NewTerminal(out, a.gateway, a.logger)
	term.SetTheme(a.settings.Get(config.KeyTheme, host.ThemeLight))

	ctrl := injection.NewController(term, a.panel,
		injection.WithAnchorTimeout(a.cfg.AnchorTimeout),
		injection.WithAnchorPollInterval(a.cfg.AnchorPollInterval),
		injection.WithLogger(a.logger),
		injection.WithRecorder(a.metrics),
	)
	defer ctrl.Close()

	watcher := navigation.New(term,
		navigation.WithPollInterval(a.cfg.PollInterval),
		navigation.WithLogger(a.logger),
		navigation.WithRecorder(a.metrics),
	)
	sub := watcher.Start(ctrl.OnLocationChange)
	defer sub.Dispose()

	unsubscribe := a.settings.Subscribe(func(key, value string) {
		switch key {
		case config.KeyTheme:
			term.SetTheme(value)
		case config.KeyToken:
			a.panel.Invalidate()
			ctrl.Retry()
		}
	})
	defer unsubscribe()
	if err := a.settings.Watch(ctx); err != nil {
		a.logger.Warn("settings changes will not be picked up", "error", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	defer term.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "":
			case "quit", "exit":
				return nil
			case "back":
				if !term.Back() {
					fmt.Fprintln(out, "no history")
				}
			case "retry":
				ctrl.Retry()
			case "state":
				state := ctrl.State()
				if h, ok := ctrl.Handle(); ok {
					fmt.Fprintf(out, "%s %s @%s (%s)\n", state, h.Context.String(), h.Subject, h.ID)
				} else {
					fmt.Fprintln(out, state)
				}
			default:
				term.Navigate(ctx, line)
			}
		}
	}
}

func serveMetrics(addr string, a *app) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}
