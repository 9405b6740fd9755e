package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
)

// Page is one browser tab.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	manager *Manager

	closeOnce sync.Once
}

// Navigate loads rawURL and returns once DOMContentLoaded fires. The timeout
// is clamped to the configured navigation ceiling.
func (p *Page) Navigate(ctx context.Context, rawURL string, timeout time.Duration) error {
	if err := p.manager.limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("navigation rate limit: %w", err)
	}

	taskCtx, cancel := p.task(ctx, p.manager.clamp(timeout))
	defer cancel()

	loaded := make(chan struct{})
	var once sync.Once
	chromedp.ListenTarget(taskCtx, func(ev any) {
		if _, ok := ev.(*page.EventDomContentEventFired); ok {
			once.Do(func() { close(loaded) })
		}
	})

	err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var res page.NavigateReturns
		if err := cdp.Execute(ctx, page.CommandNavigate, page.Navigate(rawURL), &res); err != nil {
			return err
		}
		if res.ErrorText != "" {
			return errors.New(res.ErrorText)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", rawURL, err)
	}

	select {
	case <-loaded:
		return nil
	case <-taskCtx.Done():
		return fmt.Errorf("navigate %s: waiting for DOMContentLoaded: %w", rawURL, taskCtx.Err())
	}
}

// WaitVisible blocks until selector matches a visible element.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	taskCtx, cancel := p.task(ctx, timeout)
	defer cancel()
	if err := chromedp.Run(taskCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// HTML serializes the current document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	taskCtx, cancel := p.task(ctx, 0)
	defer cancel()
	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

// Scroll moves the viewport down by the given number of viewport heights.
func (p *Page) Scroll(ctx context.Context, viewports int) error {
	taskCtx, cancel := p.task(ctx, 0)
	defer cancel()
	var offset float64
	script := fmt.Sprintf("window.scrollBy(0, window.innerHeight * %d); window.scrollY", viewports)
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(script, &offset)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// Close closes the tab. It is safe to call more than once.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		metrics.DecOpenSessions()
	})
	return nil
}

// task derives a per-operation context from the tab that also ends when ctx does.
func (p *Page) task(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = p.manager.cfg.DefaultTimeout
	}
	taskCtx, cancel := context.WithTimeout(p.ctx, timeout)
	stop := forwardCancel(ctx, cancel)
	return taskCtx, func() {
		stop()
		cancel()
	}
}
