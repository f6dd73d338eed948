package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/oss-stamp/internal/cache"
	"github.com/naka-gawa/oss-stamp/internal/config"
	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/gateway"
	"github.com/naka-gawa/oss-stamp/internal/metrics"
	"github.com/naka-gawa/oss-stamp/internal/scoring"
	"github.com/naka-gawa/oss-stamp/internal/usecase"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	settings *config.Settings
	metrics  *metrics.Manager
	gateway  *gateway.GitHubGateway
	panel    *usecase.Panel
}

// newApp loads configuration and wires gateway, cache, engine and panel.
func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, fmt.Errorf("%w: log level %q", config.ErrInvalidConfig, cfg.LogLevel)
	}
	return buildApp(cfg, newLogger(cmd, level))
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	settings, err := config.OpenSettings(cfg.SettingsPath, logger)
	if err != nil {
		return nil, err
	}
	m := metrics.NewManager()

	gw, err := gateway.NewGitHubGateway(gateway.Options{
		Token:               func() string { return settings.Get(config.KeyToken, "") },
		APIURL:              cfg.GitHubAPIURL,
		GraphQLURL:          cfg.GitHubGraphQLURL,
		SecondarySleepLimit: cfg.SecondarySleepLimit,
		Logger:              logger,
		Recorder:            m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub gateway: %w", err)
	}

	engine, err := scoring.New(cfg.Scoring)
	if err != nil {
		return nil, err
	}
	results := cache.New[domain.RawMetrics](
		cache.WithLoadTimeout(cfg.LoadTimeout),
		cache.WithLogger(logger),
		cache.WithRecorder(m),
	)
	aggregator := usecase.NewAggregator(gw, logger)
	panel := usecase.NewPanel(aggregator, results, engine, cfg.Freshness, logger)

	return &app{
		cfg:      cfg,
		logger:   logger,
		settings: settings,
		metrics:  m,
		gateway:  gw,
		panel:    panel,
	}, nil
}
