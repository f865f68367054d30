package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const resetTimeout = 5 * time.Second

// Options configures the chromedp engine.
type Options struct {
	Headless  bool
	UserAgent string
	// PoolSize is the number of tabs kept open for reuse between sessions.
	// Zero opens and closes a tab for every session.
	PoolSize int
	Logger   *log.Logger
}

// ChromeEngine drives a local Chrome through chromedp. Each session is a tab
// of one shared browser process.
type ChromeEngine struct {
	opts          Options
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	idle          chan *tab

	mu     sync.Mutex
	closed bool
}

// NewChromeEngine launches the browser process.
func NewChromeEngine(opts Options) (*ChromeEngine, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser now so launch failures surface before any visit.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("browser: launch: %w", err)
	}

	return &ChromeEngine{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		idle:          make(chan *tab, max(opts.PoolSize, 0)),
	}, nil
}

// OpenSession checks out a pooled tab or opens a new one and attaches a fresh
// response subscription to it.
func (e *ChromeEngine) OpenSession(ctx context.Context) (Session, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("browser: engine is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var t *tab
	select {
	case t = <-e.idle:
		e.opts.Logger.Debug("reusing pooled tab")
	default:
		var err error
		t, err = newTab(e.browserCtx)
		if err != nil {
			return nil, err
		}
	}

	q := newEventQueue()
	t.attach(q)
	return &chromeSession{engine: e, tab: t, queue: q}, nil
}

// Close shuts down every tab and the browser process.
func (e *ChromeEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	for {
		select {
		case t := <-e.idle:
			t.cancel()
		default:
			e.browserCancel()
			e.allocCancel()
			return nil
		}
	}
}

// release returns a tab to the pool after resetting it, or closes it.
func (e *ChromeEngine) release(t *tab) {
	t.attach(nil)

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed || cap(e.idle) == 0 {
		t.cancel()
		return
	}

	ctx, cancel := context.WithTimeout(t.ctx, resetTimeout)
	err := chromedp.Run(ctx, chromedp.Navigate("about:blank"))
	cancel()
	if err != nil {
		e.opts.Logger.Debug("discarding tab after failed reset", "err", err)
		t.cancel()
		return
	}

	select {
	case e.idle <- t:
	default:
		t.cancel()
	}
}

// tab is one chromedp target with network events enabled. Responses are
// routed to whichever subscription is currently attached.
type tab struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	queue *eventQueue
}

func newTab(parent context.Context) (*tab, error) {
	ctx, cancel := chromedp.NewContext(parent)
	t := &tab{ctx: ctx, cancel: cancel}
	chromedp.ListenTarget(ctx, t.onEvent)
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: open tab: %w", err)
	}
	return t, nil
}

func (t *tab) attach(q *eventQueue) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue != nil && t.queue != q {
		t.queue.close()
	}
	t.queue = q
}

func (t *tab) onEvent(ev interface{}) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Response == nil {
		return
	}
	t.mu.Lock()
	q := t.queue
	t.mu.Unlock()
	if q == nil {
		return
	}
	q.push(ResponseEvent{
		URL:          resp.Response.URL,
		Status:       resp.Response.Status,
		MIMEType:     resp.Response.MimeType,
		ResourceType: string(resp.Type),
	})
}

type chromeSession struct {
	engine *ChromeEngine
	tab    *tab
	queue  *eventQueue

	mu     sync.Mutex
	closed bool
}

func (s *chromeSession) Responses() <-chan ResponseEvent {
	return s.queue.out
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	runCtx, cancel, err := s.runContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	runCtx, cancel, err := s.runContext(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.queue.close()
	s.engine.release(s.tab)
	return nil
}

// runContext derives a context from the tab that also honours the caller's
// cancellation and deadline.
func (s *chromeSession) runContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, nil, ErrSessionClosed
	}

	runCtx, cancel := context.WithCancel(s.tab.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		inner := cancel
		cancel = func() { cancelDeadline(); inner() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() { stop(); cancel() }, nil
}
