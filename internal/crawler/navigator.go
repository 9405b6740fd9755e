package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
)

// Navigator loads item pages with widening timeouts and exponential backoff.
type Navigator struct {
	cfg    NavigationConfig
	clock  Clock
	logger *zap.Logger
}

// NewNavigator builds a Navigator.
func NewNavigator(cfg NavigationConfig, clock Clock, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{cfg: cfg, clock: clock, logger: logger.Named("navigator")}
}

// WithAttempts returns a copy of the navigator with a different attempt ceiling.
func (n *Navigator) WithAttempts(attempts int) *Navigator {
	cfg := n.cfg
	cfg.Retry.MaxAttempts = attempts
	return &Navigator{cfg: cfg, clock: n.clock, logger: n.logger}
}

// Navigate loads url in s and waits for the item marker. After the last
// failed attempt it returns an error wrapping both ErrNavigation and the cause.
func (n *Navigator) Navigate(ctx context.Context, s Session, url string) error {
	attempts := 0
	err := n.cfg.Retry.Do(ctx, n.clock, func(ctx context.Context, attempt int) error {
		attempts = attempt
		start := n.clock.Now()
		err := n.attempt(ctx, s, url, attempt)
		elapsed := n.clock.Now().Sub(start)
		if err == nil {
			metrics.ObserveNavigation("success", elapsed)
			return nil
		}
		if attempt < n.cfg.Retry.Attempts() {
			metrics.ObserveNavigation("retry", elapsed)
			n.logger.Warn("navigation attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", n.cfg.Retry.Attempts()),
				zap.Duration("backoff", n.cfg.Retry.Backoff(attempt)),
				zap.Error(err),
			)
		} else {
			metrics.ObserveNavigation("failed", elapsed)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %s after %d attempt(s): %w", ErrNavigation, url, attempts, err)
	}
	return nil
}

func (n *Navigator) attempt(ctx context.Context, s Session, url string, attempt int) error {
	if err := s.Navigate(ctx, url, n.cfg.NavigationTimeout.At(attempt)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if n.cfg.MarkerSelector == "" {
		return nil
	}
	if err := s.WaitVisible(ctx, n.cfg.MarkerSelector, n.cfg.MarkerTimeout.At(attempt)); err != nil {
		return fmt.Errorf("wait for %q: %w", n.cfg.MarkerSelector, err)
	}
	return nil
}
