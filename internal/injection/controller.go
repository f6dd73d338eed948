// Package injection owns the mount/unmount lifecycle of the reputation panel.
//
// The Controller is a two-state machine (EMPTY, MOUNTED) driven by location
// changes. Every change tears down the current surface before the new page is
// evaluated, and every asynchronous step (anchor wait, score load) carries a
// generation token that is checked before its result is applied. A superseded
// attempt can therefore never mount or render.
package injection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/naka-gawa/oss-stamp/internal/domain"
	"github.com/naka-gawa/oss-stamp/internal/usecase"
)

// Defaults for the anchor wait.
const (
	DefaultAnchorTimeout      = 5 * time.Second
	DefaultAnchorPollInterval = 100 * time.Millisecond
)

// State is the controller's lifecycle state.
type State int

const (
	StateEmpty State = iota
	StateMounted
)

func (s State) String() string {
	if s == StateMounted {
		return "MOUNTED"
	}
	return "EMPTY"
}

// Anchor is the rendered page region the panel attaches to.
type Anchor struct {
	// Subject is the contributor the region is about, e.g. the pull request author.
	Subject string
}

// Page is the part of the host page the controller reads and writes.
type Page interface {
	// Anchor returns the anchor region of pc if it has rendered.
	Anchor(pc domain.PageContext) (Anchor, bool)
	// Mount attaches a new surface to anchor.
	Mount(anchor Anchor, pc domain.PageContext) (Surface, error)
}

// Surface is one mounted panel. Rendering is the host's business.
type Surface interface {
	Render(view *usecase.View)
	Fail(err error)
	Remove()
}

// ViewLoader produces the view of a mounted panel. *usecase.Panel implements it.
type ViewLoader interface {
	Load(ctx context.Context, pc domain.PageContext, subject string) (*usecase.View, error)
	Reload(ctx context.Context, pc domain.PageContext, subject string) (*usecase.View, error)
}

// Lifecycle events reported to the Recorder.
const (
	EventMounted       = "mounted"
	EventUnmounted     = "unmounted"
	EventAnchorTimeout = "anchor_timeout"
	EventSuperseded    = "superseded"
)

// Recorder receives lifecycle events.
type Recorder interface {
	InjectionEvent(event string)
}

type nopRecorder struct{}

func (nopRecorder) InjectionEvent(string) {}

// Handle identifies the mounted surface. At most one exists at a time.
type Handle struct {
	ID        string
	Context   domain.PageContext
	Subject   string
	MountedAt time.Time

	surface Surface
	// loads numbers load attempts; only the latest one is applied.
	loads uint64
}

// Controller mounts at most one surface, for the current qualifying page.
type Controller struct {
	page         Page
	loader       ViewLoader
	timeout      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
	recorder     Recorder

	mu         sync.Mutex
	generation uint64
	ctx        context.Context
	cancel     context.CancelFunc
	handle     *Handle
	closed     bool
	wg         sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithAnchorTimeout bounds the wait for the anchor region.
func WithAnchorTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAnchorPollInterval sets how often the anchor is looked up while waiting.
func WithAnchorPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewController creates a Controller in the EMPTY state.
func NewController(page Page, loader ViewLoader, opts ...Option) *Controller {
	c := &Controller{
		page:         page,
		loader:       loader,
		timeout:      DefaultAnchorTimeout,
		pollInterval: DefaultAnchorPollInterval,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "injection")
	return c
}

// OnLocationChange tears down the current surface and, if url qualifies,
// starts a new injection attempt. A pending attempt is cancelled.
func (c *Controller) OnLocationChange(url string) {
	pc := domain.ParsePageContext(url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.generation++
	if c.cancel != nil {
		if c.handle == nil {
			c.recorder.InjectionEvent(EventSuperseded)
		}
		c.cancel()
		c.cancel = nil
	}
	c.teardownLocked()

	if !pc.Qualifies() {
		c.logger.Debug("page does not qualify", "url", url)
		return
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.attempt(c.ctx, c.generation, pc)
}

// Retry reloads the mounted panel bypassing cached metrics.
func (c *Controller) Retry() {
	c.mu.Lock()
	h, gen, ctx := c.handle, c.generation, c.ctx
	if h == nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.load(ctx, gen, h, true)
	}()
}

// State reports whether a surface is mounted.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return StateMounted
	}
	return StateEmpty
}

// Handle returns a copy of the mounted handle, if any.
func (c *Controller) Handle() (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return Handle{}, false
	}
	return *c.handle, true
}

// Close cancels pending work, removes the surface and waits for goroutines.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.teardownLocked()
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Controller) teardownLocked() {
	if c.handle == nil {
		return
	}
	c.handle.surface.Remove()
	c.logger.Debug("panel removed", "handle", c.handle.ID, "page", c.handle.Context.String())
	c.handle = nil
	c.recorder.InjectionEvent(EventUnmounted)
}

func (c *Controller) attempt(ctx context.Context, gen uint64, pc domain.PageContext) {
	defer c.wg.Done()

	anchor, err := c.waitForAnchor(ctx, pc)
	if err != nil {
		if domain.IsTimeout(err) {
			c.recorder.InjectionEvent(EventAnchorTimeout)
			c.logger.Debug("anchor did not appear; page does not qualify", "page", pc.String(), "timeout", c.timeout)
		}
		return
	}
	subject := anchor.Subject
	if subject == "" {
		subject = pc.Subject
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	surface, err := c.page.Mount(anchor, pc)
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("failed to mount panel", "page", pc.String(), "error", err)
		return
	}
	h := &Handle{
		ID:        uuid.NewString(),
		Context:   pc,
		Subject:   subject,
		MountedAt: time.Now(),
		surface:   surface,
	}
	c.handle = h
	c.recorder.InjectionEvent(EventMounted)
	c.mu.Unlock()
	c.logger.Debug("panel mounted", "handle", h.ID, "page", pc.String(), "subject", subject)

	c.load(ctx, gen, h, false)
}

func (c *Controller) load(ctx context.Context, gen uint64, h *Handle, force bool) {
	load := c.loader.Load
	if force {
		load = c.loader.Reload
	}
	c.mu.Lock()
	h.loads++
	seq := h.loads
	c.mu.Unlock()

	view, err := load(ctx, h.Context, h.Subject)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.handle != h || seq != h.loads {
		return
	}
	if err != nil {
		c.logger.Debug("panel load failed", "handle", h.ID, "error", err)
		h.surface.Fail(err)
		return
	}
	h.surface.Render(view)
}

// waitForAnchor polls the page until the anchor renders, ctx is cancelled,
// or the timeout elapses.
func (c *Controller) waitForAnchor(ctx context.Context, pc domain.PageContext) (Anchor, error) {
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if anchor, ok := c.page.Anchor(pc); ok {
			return anchor, nil
		}
		select {
		case <-ctx.Done():
			return Anchor{}, ctx.Err()
		case <-deadline.C:
			return Anchor{}, domain.NewTimeoutError("wait for anchor", fmt.Errorf("no anchor for %s after %s", pc.String(), c.timeout))
		case <-ticker.C:
		}
	}
}
