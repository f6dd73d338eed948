package navigation

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePage struct {
	mu       sync.Mutex
	location string
	nextID   int
	render   map[int]func()
	history  map[int]func()
}

func newFakePage(location string) *fakePage {
	return &fakePage{location: location, render: map[int]func(){}, history: map[int]func(){}}
}

func (p *fakePage) Location() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location
}

// SetLocation changes the location without firing any event, like an
// imperative history mutation.
func (p *fakePage) SetLocation(location string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location = location
}

func (p *fakePage) subscribe(set map[int]func(), fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	set[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(set, id)
	}
}

func (p *fakePage) OnRenderComplete(fn func()) func() { return p.subscribe(p.render, fn) }

func (p *fakePage) OnHistoryNavigate(fn func()) func() { return p.subscribe(p.history, fn) }

func (p *fakePage) fire(set map[int]func()) {
	p.mu.Lock()
	fns := make([]func(), 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *fakePage) listeners() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.render) + len(p.history)
}

type changeLog struct {
	mu   sync.Mutex
	urls []string
}

func (c *changeLog) record(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, url)
}

func (c *changeLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.urls...)
}

func TestWatcher_SimultaneousSignalsFireOnce(t *testing.T) {
	page := newFakePage("https://github.com/")
	changes := &changeLog{}
	d := New(page, WithPollInterval(5*time.Millisecond)).Start(changes.record)
	defer d.Dispose()

	page.SetLocation("https://github.com/o/r/pull/1")
	var wg sync.WaitGroup
	for _, set := range []map[int]func(){page.render, page.history, page.render} {
		wg.Add(1)
		go func(set map[int]func()) {
			defer wg.Done()
			page.fire(set)
		}(set)
	}
	wg.Wait()
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, []string{"https://github.com/o/r/pull/1"}, changes.snapshot())
}

func TestWatcher_PollDetectsSilentNavigation(t *testing.T) {
	page := newFakePage("https://github.com/a")
	changes := &changeLog{}
	d := New(page, WithPollInterval(5*time.Millisecond)).Start(changes.record)
	defer d.Dispose()

	page.SetLocation("https://github.com/b")
	require.Eventually(t, func() bool { return len(changes.snapshot()) == 1 }, time.Second, time.Millisecond)

	page.SetLocation("https://github.com/a")
	require.Eventually(t, func() bool { return len(changes.snapshot()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"https://github.com/b", "https://github.com/a"}, changes.snapshot())
}

func TestWatcher_HistoryEventIsImmediate(t *testing.T) {
	page := newFakePage("https://github.com/a")
	var calls atomic.Int32
	d := New(page, WithPollInterval(time.Hour)).Start(func(string) { calls.Add(1) })
	defer d.Dispose()

	page.SetLocation("https://github.com/b")
	page.fire(page.history)
	assert.Equal(t, int32(1), calls.Load())

	page.fire(page.history)
	page.fire(page.render)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcher_NoCallbackAfterDispose(t *testing.T) {
	page := newFakePage("https://github.com/a")
	var calls atomic.Int32
	d := New(page, WithPollInterval(time.Millisecond)).Start(func(string) { calls.Add(1) })
	assert.Equal(t, 2, page.listeners())

	d.Dispose()
	d.Dispose()
	assert.Equal(t, 0, page.listeners())

	page.SetLocation("https://github.com/b")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
