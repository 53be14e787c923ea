// Package browser provides rendering sessions backed by headless Chrome.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clipstream/clipcrawler/internal/crawler"
)

// Config controls the Chrome engine and the sessions it hands out.
type Config struct {
	Headless bool
	// UserAgent overrides the browser default when non-empty.
	UserAgent string
	// UserDataDir points at a persistent Chrome profile so login cookies
	// survive restarts. Empty means a throwaway profile.
	UserDataDir string
	// NavigationTimeout bounds full page loads.
	NavigationTimeout time.Duration
	// OpTimeout bounds every non-navigation DOM operation.
	OpTimeout time.Duration
	// NavQPS paces navigations across all sessions; zero disables pacing.
	NavQPS float64
	// ScrollPause is slept after each scroll step so lazy content loads.
	ScrollPause time.Duration
}

func (c *Config) applyDefaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 45 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = 1500 * time.Millisecond
	}
}

// Engine owns the Chrome process. Sessions are tabs inside it, so they share
// the profile's cookies while keeping independent navigation state.
type Engine struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	limiter       *rate.Limiter
	logger        *zap.Logger
}

// NewEngine starts headless Chrome and verifies it responds.
func NewEngine(cfg Config, logger *zap.Logger) (*Engine, error) {
	cfg.applyDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.NavQPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.NavQPS), 1)
	}

	return &Engine{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		limiter:       limiter,
		logger:        logger,
	}, nil
}

// Close tears down Chrome and every open session.
func (e *Engine) Close() {
	e.browserCancel()
	e.allocCancel()
}

// NewSession opens a fresh tab.
func (e *Engine) NewSession(ctx context.Context) (crawler.Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)

	actions := []chromedp.Action{}
	if e.cfg.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(e.cfg.UserAgent))
	}
	actions = append(actions, chromedp.Navigate("about:blank"))
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		tabCancel()
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	select {
	case <-ctx.Done():
		tabCancel()
		return nil, ctx.Err()
	default:
	}
	return &session{engine: e, tabCtx: tabCtx, tabCancel: tabCancel}, nil
}

type session struct {
	engine    *Engine
	tabCtx    context.Context
	tabCancel context.CancelFunc
	closeOnce sync.Once
}

// run executes actions against the tab under a per-call timeout, honoring
// cancellation from the caller's context as well.
func (s *session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := s.tabCtx.Err(); err != nil {
		return fmt.Errorf("%w: %v", crawler.ErrSessionLost, err)
	}
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if s.tabCtx.Err() != nil {
			return fmt.Errorf("%w: %v", crawler.ErrSessionLost, err)
		}
		return err
	}
	return nil
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if s.engine.limiter != nil {
		if err := s.engine.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("navigation pacing: %w", err)
		}
	}
	err := s.run(ctx, s.engine.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, crawler.ErrSessionLost) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", crawler.ErrNavigation, url, err)
	}
	return nil
}

func (s *session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.engine.cfg.OpTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (s *session) ScrollUntil(ctx context.Context, pred func(ctx context.Context) (bool, error), maxIterations int) error {
	for i := 0; i < maxIterations; i++ {
		err := s.run(ctx, s.engine.cfg.OpTimeout,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		)
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.engine.cfg.ScrollPause):
		}
		done, err := pred(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	// Hitting the bound is not an error; infinite listings never report
	// done on their own.
	return nil
}

func (s *session) Click(ctx context.Context, selector string) error {
	return s.run(ctx, s.engine.cfg.OpTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (s *session) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%s) !== null", strconv.Quote(selector))
	if err := s.run(ctx, s.engine.cfg.OpTimeout, chromedp.Evaluate(expr, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (s *session) Text(ctx context.Context, selector string) (string, error) {
	var out string
	if err := s.run(ctx, s.engine.cfg.OpTimeout, chromedp.Text(selector, &out, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return out, nil
}

func (s *session) Attr(ctx context.Context, selector, attr string) (string, bool, error) {
	var (
		val string
		ok  bool
	)
	if err := s.run(ctx, s.engine.cfg.OpTimeout, chromedp.AttributeValue(selector, attr, &val, &ok, chromedp.ByQuery)); err != nil {
		return "", false, err
	}
	return val, ok, nil
}

func (s *session) Count(ctx context.Context, selector string) (int, error) {
	var n int
	expr := fmt.Sprintf("document.querySelectorAll(%s).length", strconv.Quote(selector))
	if err := s.run(ctx, s.engine.cfg.OpTimeout, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *session) Close() {
	s.closeOnce.Do(s.tabCancel)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
