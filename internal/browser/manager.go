// Package browser drives headless Chrome through chromedp and hands out tabs
// as crawler sessions.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/crawler"
	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
	"github.com/JakeFAU/marketplace-archiver/internal/policy/ratelimit"
)

// DefaultUserAgent is the desktop identity presented to the marketplace.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// teardownScript clears every pending timer and interval when a document unloads.
const teardownScript = `window.addEventListener('beforeunload', () => {
  const highestId = window.setTimeout(() => {}, 0);
  for (let i = 0; i < highestId; i++) {
    window.clearTimeout(i);
    window.clearInterval(i);
  }
});`

// Config controls the browser launch and per-tab defaults.
type Config struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	DefaultTimeout    time.Duration
	NavigationCeiling time.Duration
	QPS               float64
}

// DefaultConfig mirrors the timeouts the archiver was tuned with.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		UserAgent:         DefaultUserAgent,
		DefaultTimeout:    30 * time.Second,
		NavigationCeiling: 60 * time.Second,
	}
}

// Manager owns one Chrome process and opens a tab per session.
type Manager struct {
	cfg             Config
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	limiter         *ratelimit.Limiter
}

// New launches Chrome and waits for the browser to come up.
func New(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	return &Manager{
		cfg:             cfg,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		limiter:         ratelimit.New(ratelimit.Config{RPS: cfg.QPS, Burst: 1}),
		logger:          logger.Named("browser"),
	}, nil
}

// Close shuts the browser down.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.browserCancel()
	m.allocatorCancel()
	return nil
}

// Acquire opens a new tab with the identity override and teardown hook installed.
func (m *Manager) Acquire(ctx context.Context) (crawler.Session, error) {
	tabCtx, cancelTab := chromedp.NewContext(m.browserCtx)

	// The first Run creates the target and ties its event loop to the ctx it
	// is given, so it runs on tabCtx itself and never on a deadline.
	stopOpen := forwardCancel(ctx, cancelTab)
	err := chromedp.Run(tabCtx)
	stopOpen()
	if err != nil {
		cancelTab()
		return nil, fmt.Errorf("open tab: %w", err)
	}

	setupCtx, cancelSetup := context.WithTimeout(tabCtx, m.cfg.DefaultTimeout)
	defer cancelSetup()
	stopForward := forwardCancel(ctx, cancelSetup)
	defer stopForward()

	err = chromedp.Run(setupCtx,
		emulation.SetUserAgentOverride(m.cfg.UserAgent),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(teardownScript).Do(ctx)
			return err
		}),
	)
	if err != nil {
		cancelTab()
		return nil, fmt.Errorf("prepare tab: %w", err)
	}

	metrics.IncOpenSessions()
	return &Page{
		ctx:     tabCtx,
		cancel:  cancelTab,
		manager: m,
	}, nil
}

// Release closes the tab. Close errors are logged and dropped.
func (m *Manager) Release(s crawler.Session) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		m.logger.Debug("close tab", zap.Error(err))
	}
}

func (m *Manager) clamp(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = m.cfg.DefaultTimeout
	}
	if m.cfg.NavigationCeiling > 0 && timeout > m.cfg.NavigationCeiling {
		return m.cfg.NavigationCeiling
	}
	return timeout
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.NavigationCeiling <= 0 {
		cfg.NavigationCeiling = def.NavigationCeiling
	}
	return cfg
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
