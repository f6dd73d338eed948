// Package navigation detects location changes of a host single-page application.
//
// The host offers no single reliable "navigated" event, so the watcher layers
// three signals: host render-completion events, history navigation events, and
// a low-frequency poll of the location string. All three pass through one
// dedup gate keyed on the literal location, so simultaneous signals for the
// same change produce one callback.
package navigation

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is the backstop poll period.
const DefaultPollInterval = 200 * time.Millisecond

// Signal sources.
const (
	SourceRender  = "render"
	SourceHistory = "history"
	SourcePoll    = "poll"
)

// Page is the part of the host page the watcher observes.
//
// Implementations must not hold internal locks while invoking listeners:
// the watcher reads Location from inside listener callbacks.
type Page interface {
	// Location returns the current location string.
	Location() string
	// OnRenderComplete registers fn for host render-completion events.
	OnRenderComplete(fn func()) (remove func())
	// OnHistoryNavigate registers fn for back/forward navigation events.
	OnHistoryNavigate(fn func()) (remove func())
}

// Disposable stops what Start started.
type Disposable interface {
	// Dispose removes all listeners and stops the poll. No callback fires
	// after it returns. It must not be called from inside the callback.
	Dispose()
}

// Signal is one raw observation. Only the last location is retained.
type Signal struct {
	URL    string
	Source string
	At     time.Time
}

// Recorder receives watcher observations.
type Recorder interface {
	NavigationSignal(source string, changed bool)
}

type nopRecorder struct{}

func (nopRecorder) NavigationSignal(string, bool) {}

// Watcher observes a Page.
type Watcher struct {
	page     Page
	interval time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets the backstop poll period.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(w *Watcher) {
		if r != nil {
			w.recorder = r
		}
	}
}

// New creates a Watcher for page.
func New(page Page, opts ...Option) *Watcher {
	w := &Watcher{
		page:     page,
		interval: DefaultPollInterval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "navigation")
	return w
}

// Start begins watching. The current location is taken as already seen;
// onChange fires once per later change of the location string.
func (w *Watcher) Start(onChange func(url string)) Disposable {
	s := &subscription{
		watcher:  w,
		onChange: onChange,
		last:     w.page.Location(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.removeRender = w.page.OnRenderComplete(func() { s.observe(SourceRender) })
	s.removeHistory = w.page.OnHistoryNavigate(func() { s.observe(SourceHistory) })
	go s.poll(w.interval)

	w.logger.Debug("navigation watcher started", "location", s.last, "poll_interval", w.interval)
	return s
}

type subscription struct {
	watcher  *Watcher
	onChange func(url string)

	// mu is the dedup gate. It is held while onChange runs so that changes
	// are delivered one at a time and Dispose can wait for the last one.
	mu       sync.Mutex
	last     string
	disposed bool

	removeRender  func()
	removeHistory func()
	stop          chan struct{}
	done          chan struct{}
	once          sync.Once
}

func (s *subscription) observe(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	sig := Signal{URL: s.watcher.page.Location(), Source: source, At: time.Now()}
	changed := sig.URL != s.last
	s.watcher.recorder.NavigationSignal(source, changed)
	if !changed {
		return
	}
	s.watcher.logger.Debug("location changed", "from", s.last, "to", sig.URL, "source", sig.Source)
	s.last = sig.URL
	s.onChange(sig.URL)
}

func (s *subscription) poll(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.observe(SourcePoll)
		case <-s.stop:
			return
		}
	}
}

func (s *subscription) Dispose() {
	s.once.Do(func() {
		s.removeRender()
		s.removeHistory()
		close(s.stop)
		<-s.done

		s.mu.Lock()
		s.disposed = true
		s.mu.Unlock()
		s.watcher.logger.Debug("navigation watcher disposed")
	})
}
