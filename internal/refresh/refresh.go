// Package refresh keeps a detection session current while its page changes.
//
// Every trigger (mutations, scrolls, the media-count poll, image load
// watches and explicit load-everything requests) funnels into one debounced
// Schedule call. Passes never overlap.
package refresh

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mangalens/internal/page"
)

// Subscription names.
const (
	SubMutation = "mutation"
	SubScroll   = "scroll"
	SubPoll     = "poll"
	SubLoaded   = "loaded"
)

// Timer is the part of *time.Timer the controller needs.
type Timer interface {
	Stop() bool
}

// RunFunc performs one detection pass.
type RunFunc func(ctx context.Context, reason string)

// Config tunes the controller. Zero values select defaults.
type Config struct {
	Debounce       time.Duration
	ScrollInterval time.Duration
	// PollInterval below zero disables the media-count poll.
	PollInterval time.Duration
	ScrollStep   float64
	StepDelay    time.Duration
	MaxSteps     int

	AfterFunc func(d time.Duration, f func()) Timer
	Sleep     func(ctx context.Context, d time.Duration) error
	Clock     func() time.Time
	Logger    *log.Logger
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		Debounce:       250 * time.Millisecond,
		ScrollInterval: 500 * time.Millisecond,
		PollInterval:   3 * time.Second,
		ScrollStep:     800,
		StepDelay:      400 * time.Millisecond,
		MaxSteps:       200,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.ScrollInterval <= 0 {
		c.ScrollInterval = d.ScrollInterval
	}
	if c.PollInterval == 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ScrollStep <= 0 {
		c.ScrollStep = d.ScrollStep
	}
	if c.StepDelay <= 0 {
		c.StepDelay = d.StepDelay
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = d.MaxSteps
	}
	if c.AfterFunc == nil {
		c.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Controller schedules detection passes for one page source.
type Controller struct {
	cfg    Config
	src    page.Source
	run    RunFunc
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	gen      uint64
	timer    Timer
	closed   bool
	handlers map[string]func(page.Signal)
	subs     map[string]context.CancelFunc
	watched  map[string]struct{}
	lastSeen int

	runMu   sync.Mutex
	limiter *rate.Limiter
}

// New creates a controller. Call Start to attach the subscriptions.
func New(src page.Source, run RunFunc, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		src:      src,
		run:      run,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]func(page.Signal)),
		subs:     make(map[string]context.CancelFunc),
		watched:  make(map[string]struct{}),
		lastSeen: -1,
		limiter:  rate.NewLimiter(rate.Every(cfg.ScrollInterval), 1),
	}
}

// Start attaches the mutation, scroll, loaded and poll subscriptions and
// schedules the initial pass.
func (c *Controller) Start() {
	c.Subscribe(SubMutation, c.onMutation)
	c.Subscribe(SubScroll, c.onScroll)
	c.Subscribe(SubLoaded, c.onLoaded)
	if c.cfg.PollInterval > 0 {
		c.seedPoll()
		c.startPoll()
	}
	if ch := c.src.Signals(); ch != nil {
		c.wg.Add(1)
		go c.pump(ch)
	}
	c.Schedule("initial")
}

// Subscribe registers a named signal handler, replacing any handler of the
// same name.
func (c *Controller) Subscribe(name string, h func(page.Signal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.handlers[name] = h
}

// Unsubscribe cancels one named subscription.
func (c *Controller) Unsubscribe(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, name)
	if cancel, ok := c.subs[name]; ok {
		cancel()
		delete(c.subs, name)
	}
}

// Subscriptions lists the active subscription names.
func (c *Controller) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.handlers)+len(c.subs))
	for name := range c.handlers {
		out = append(out, name)
	}
	for name := range c.subs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Controller) pump(ch <-chan page.Signal) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			c.Dispatch(sig)
		}
	}
}

// Dispatch routes a page signal to the subscription for its kind.
func (c *Controller) Dispatch(sig page.Signal) {
	c.mu.Lock()
	h := c.handlers[string(sig.Kind)]
	c.mu.Unlock()
	if h != nil {
		h(sig)
	}
}

func (c *Controller) onMutation(sig page.Signal) {
	for _, n := range sig.Added {
		if n.IsMedia() {
			c.Schedule(SubMutation)
			return
		}
	}
}

func (c *Controller) onScroll(page.Signal) {
	if c.limiter.AllowN(c.cfg.Clock(), 1) {
		c.Schedule(SubScroll)
	}
}

func (c *Controller) onLoaded(sig page.Signal) {
	c.mu.Lock()
	_, ok := c.watched[sig.URL]
	delete(c.watched, sig.URL)
	c.mu.Unlock()
	if ok {
		c.Schedule(SubLoaded)
	}
}

// seedPoll records the current media count so a change before the first
// tick is still noticed.
func (c *Controller) seedPoll() {
	n, err := c.src.MediaCount(c.ctx)
	if err != nil {
		c.logger.Printf("refresh: initial media count: %v", err)
		return
	}
	c.mu.Lock()
	c.lastSeen = n
	c.mu.Unlock()
}

func (c *Controller) startPoll() {
	ctx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.subs[SubPoll] = cancel
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Poll(ctx)
			}
		}
	}()
}

// Poll compares the page's media count with the previous observation and
// schedules a pass when it changed.
func (c *Controller) Poll(ctx context.Context) {
	n, err := c.src.MediaCount(ctx)
	if err != nil {
		return
	}
	c.mu.Lock()
	changed := c.lastSeen >= 0 && n != c.lastSeen
	c.lastSeen = n
	c.mu.Unlock()
	if changed {
		c.Schedule(SubPoll)
	}
}

// Watch registers one-shot load watches for urls not already watched.
func (c *Controller) Watch(ctx context.Context, urls []string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	var fresh []string
	for _, u := range urls {
		if _, ok := c.watched[u]; ok {
			continue
		}
		c.watched[u] = struct{}{}
		fresh = append(fresh, u)
	}
	c.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}
	return c.src.Watch(ctx, fresh)
}

// Schedule requests a pass after the debounce period. A call made while one
// is pending replaces it.
func (c *Controller) Schedule(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.cfg.AfterFunc(c.cfg.Debounce, func() { c.fire(gen, reason) })
}

func (c *Controller) fire(gen uint64, reason string) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	c.RunNow(reason)
}

// RunNow performs a pass immediately, waiting for any pass in progress.
func (c *Controller) RunNow(reason string) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	c.run(c.ctx, reason)
}

// LoadAll scrolls the page, or its iframe, from top to bottom in fixed steps
// so lazy galleries materialise, scheduling a pass after each step. The
// original scroll position is restored afterwards.
func (c *Controller) LoadAll(ctx context.Context) error {
	info, err := c.src.ScrollInfo(ctx)
	if err != nil {
		return err
	}
	origin := info.Y
	defer func() {
		if err := c.src.ScrollTo(context.WithoutCancel(ctx), info.Target, origin); err != nil {
			c.logger.Printf("refresh: restore scroll: %v", err)
		}
	}()
	y := 0.0
	for step := 0; step < c.cfg.MaxSteps; step++ {
		if err := c.src.ScrollTo(ctx, info.Target, y); err != nil {
			return err
		}
		c.Schedule("load-all")
		if err := c.cfg.Sleep(ctx, c.cfg.StepDelay); err != nil {
			return err
		}
		cur, err := c.src.ScrollInfo(ctx)
		if err != nil {
			return err
		}
		if y+cur.Viewport >= cur.Height {
			return nil
		}
		y += c.cfg.ScrollStep
	}
	return nil
}

// Close cancels every subscription and any pending pass.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	for name, cancel := range c.subs {
		cancel()
		delete(c.subs, name)
	}
	for name := range c.handlers {
		delete(c.handlers, name)
	}
	c.watched = map[string]struct{}{}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
