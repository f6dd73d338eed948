// Package host provides a line-driven host page for the CLI.
//
// Terminal stands in for the browser tab: it holds a location, renders pages
// asynchronously (resolving the pull request author through the API, the way
// the page header would show it), emits render-completion and history events,
// and prints mounted panels to an io.Writer.
package host

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/injection"
	"github.com/naka-gawa/oss-stamp/internal/navigation"
	"github.com/naka-gawa/oss-stamp/internal/usecase"
)

// Themes accepted by SetTheme.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// AuthorResolver looks up pull request authors. gateway.Fetcher implements it.
type AuthorResolver interface {
	FetchPRAuthor(ctx context.Context, owner, repo string, number int) (string, error)
}

// Terminal is an in-process host page.
type Terminal struct {
	resolver AuthorResolver
	logger   *slog.Logger

	mu       sync.Mutex
	location string
	history  []string
	anchors  map[string]injection.Anchor
	theme    string
	render   listeners
	nav      listeners
	current  *surface

	outMu sync.Mutex
	out   io.Writer

	wg sync.WaitGroup
}

var (
	_ navigation.Page = (*Terminal)(nil)
	_ injection.Page  = (*Terminal)(nil)
)

// NewTerminal creates a Terminal printing panels to out.
func NewTerminal(out io.Writer, resolver AuthorResolver, logger *slog.Logger) *Terminal {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Terminal{
		resolver: resolver,
		logger:   logger.With("component", "host"),
		anchors:  make(map[string]injection.Anchor),
		theme:    ThemeLight,
		render:   listeners{fns: make(map[int]func())},
		nav:      listeners{fns: make(map[int]func())},
		out:      out,
	}
}

// Location implements navigation.Page.
func (t *Terminal) Location() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location
}

// OnRenderComplete implements navigation.Page.
func (t *Terminal) OnRenderComplete(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.render.add(&t.mu, fn)
}

// OnHistoryNavigate implements navigation.Page.
func (t *Terminal) OnHistoryNavigate(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nav.add(&t.mu, fn)
}

// Navigate moves to url and renders the page in the background. The render
// completion event fires once the page anchor is known.
func (t *Terminal) Navigate(ctx context.Context, url string) {
	t.mu.Lock()
	if t.location != "" {
		t.history = append(t.history, t.location)
	}
	t.location = url
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.renderPage(ctx, url)
	}()
}

// Back returns to the previous location and fires the history event.
// It reports false when there is no history.
func (t *Terminal) Back() bool {
	t.mu.Lock()
	if len(t.history) == 0 {
		t.mu.Unlock()
		return false
	}
	t.location = t.history[len(t.history)-1]
	t.history = t.history[:len(t.history)-1]
	fns := t.nav.snapshot()
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return true
}

// Wait blocks until pending page renders finish.
func (t *Terminal) Wait() {
	t.wg.Wait()
}

// SetTheme switches the panel theme and repaints the mounted panel.
func (t *Terminal) SetTheme(theme string) {
	if theme != ThemeDark {
		theme = ThemeLight
	}
	t.mu.Lock()
	if t.theme == theme {
		t.mu.Unlock()
		return
	}
	t.theme = theme
	current := t.current
	t.mu.Unlock()

	t.logger.Debug("theme changed", "theme", theme)
	if current != nil {
		current.repaint()
	}
}

// Theme returns the current theme.
func (t *Terminal) Theme() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.theme
}

// Anchor implements injection.Page.
func (t *Terminal) Anchor(pc domain.PageContext) (injection.Anchor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if domain.ParsePageContext(t.location) != pc {
		return injection.Anchor{}, false
	}
	a, ok := t.anchors[pc.String()]
	return a, ok
}

// Mount implements injection.Page.
func (t *Terminal) Mount(anchor injection.Anchor, pc domain.PageContext) (injection.Surface, error) {
	s := &surface{host: t, pc: pc, subject: anchor.Subject}
	t.mu.Lock()
	t.current = s
	t.mu.Unlock()
	s.printf("loading %s on %s", subjectLabel(anchor.Subject), pc.String())
	return s, nil
}

func (t *Terminal) renderPage(ctx context.Context, url string) {
	pc := domain.ParsePageContext(url)
	if pc.Qualifies() {
		anchor, err := t.resolveAnchor(ctx, pc)
		if err != nil {
			t.logger.Warn("page rendered without author", "page", pc.String(), "error", err)
		} else {
			t.mu.Lock()
			t.anchors[pc.String()] = anchor
			t.mu.Unlock()
		}
	}

	t.mu.Lock()
	if t.location != url {
		t.mu.Unlock()
		return
	}
	fns := t.render.snapshot()
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (t *Terminal) resolveAnchor(ctx context.Context, pc domain.PageContext) (injection.Anchor, error) {
	if !pc.RequiresRepo() {
		return injection.Anchor{Subject: pc.Subject}, nil
	}
	t.mu.Lock()
	a, ok := t.anchors[pc.String()]
	t.mu.Unlock()
	if ok {
		return a, nil
	}
	if t.resolver == nil {
		return injection.Anchor{}, fmt.Errorf("no author resolver for %s", pc.String())
	}
	login, err := t.resolver.FetchPRAuthor(ctx, pc.Owner, pc.Repo, pc.Number)
	if err != nil {
		return injection.Anchor{}, fmt.Errorf("failed to resolve author of %s: %w", pc.String(), err)
	}
	return injection.Anchor{Subject: login}, nil
}

func (t *Terminal) println(line string) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintln(t.out, line)
}

type listeners struct {
	next int
	fns  map[int]func()
}

// add must be called with mu held; the returned remover takes mu itself.
func (l *listeners) add(mu *sync.Mutex, fn func()) func() {
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		mu.Lock()
		defer mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners) snapshot() []func() {
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, l.fns[id])
	}
	return fns
}

// surface prints one mounted panel.
type surface struct {
	host    *Terminal
	pc      domain.PageContext
	subject string

	mu      sync.Mutex
	view    *usecase.View
	err     error
	removed bool
}

func (s *surface) Render(view *usecase.View) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.view, s.err = view, nil
	s.mu.Unlock()
	s.repaint()
}

func (s *surface) Fail(err error) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.view, s.err = nil, err
	s.mu.Unlock()
	s.repaint()
}

func (s *surface) Remove() {
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()

	s.host.mu.Lock()
	if s.host.current == s {
		s.host.current = nil
	}
	s.host.mu.Unlock()
}

func (s *surface) repaint() {
	s.mu.Lock()
	view, err, removed := s.view, s.err, s.removed
	s.mu.Unlock()
	if removed {
		return
	}

	switch {
	case err != nil:
		s.printf("%s", failureMessage(err))
	case view != nil:
		s.printf("%s", FormatView(view))
	}
}

func (s *surface) printf(format string, args ...any) {
	prefix := "[oss-stamp]"
	if s.host.Theme() == ThemeDark {
		prefix = "\x1b[7m[oss-stamp]\x1b[0m"
	}
	s.host.println(prefix + " " + fmt.Sprintf(format, args...))
}

func failureMessage(err error) string {
	if reset, ok := domain.ResetAt(err); ok && domain.IsRateLimited(err) {
		return fmt.Sprintf("rate limited, resets at %s (retry after that)", reset.Local().Format(time.Kitchen))
	}
	return fmt.Sprintf("failed to load: %v (type retry)", err)
}

// FormatView renders a view as one panel line.
func FormatView(v *usecase.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %d", subjectLabel(v.Subject), v.Score.Tier, v.Score.Overall)
	for _, name := range []string{
		domain.ComponentContribution,
		domain.ComponentMergeRate,
		domain.ComponentReview,
		domain.ComponentTenure,
		domain.ComponentRecency,
	} {
		fmt.Fprintf(&b, " %s=%d", name, v.Score.Components[name])
	}
	m := v.Global
	if v.Repo != nil {
		m = *v.Repo
	}
	fmt.Fprintf(&b, " | merged %d/%d reviews %d active %s", m.MergedPRs, m.TotalPRs, m.ReviewsGiven, v.ActiveSince)
	if v.AccountAge != "" {
		fmt.Fprintf(&b, " account %s", v.AccountAge)
	}
	return b.String()
}

func subjectLabel(subject string) string {
	if subject == "" {
		return "@?"
	}
	return "@" + subject
}
