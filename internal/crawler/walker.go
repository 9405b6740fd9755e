package crawler

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
)

// Walker drives infinite-scroll pagination over each sort dimension and hands
// every unseen item URL to the handler. Items are processed one at a time.
type Walker struct {
	cfg      WalkerConfig
	sessions SessionManager
	handler  ItemHandler
	ids      IdentifierParser
	seen     *seenSet
	clock    Clock
	logger   *zap.Logger
}

// NewWalker builds a Walker with an empty seen-set.
func NewWalker(
	cfg WalkerConfig,
	sessions SessionManager,
	handler ItemHandler,
	ids IdentifierParser,
	clock Clock,
	logger *zap.Logger,
) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		cfg:      cfg,
		sessions: sessions,
		handler:  handler,
		ids:      ids,
		seen:     newSeenSet(),
		clock:    clock,
		logger:   logger.Named("walker"),
	}
}

// Walk visits every configured dimension and returns the number of newly
// processed items. A failing dimension is logged and skipped; only
// cancellation of ctx stops the walk early.
func (w *Walker) Walk(ctx context.Context) (int, error) {
	total := 0
	for _, dim := range w.cfg.Dimensions {
		n, err := w.walkDimension(ctx, dim)
		total += n
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return total, fmt.Errorf("walk %s: %w", dim, ctxErr)
			}
			w.logger.Warn("dimension aborted", zap.String("dimension", dim), zap.Int("processed", n), zap.Error(err))
			continue
		}
		w.logger.Info("dimension complete",
			zap.String("dimension", dim),
			zap.Int("processed", n),
			zap.Int("seen", w.seen.Len()),
		)
	}
	return total, nil
}

func (w *Walker) walkDimension(ctx context.Context, dim string) (int, error) {
	listing := w.cfg.ListingURL(dim)
	base, err := url.Parse(listing)
	if err != nil {
		return 0, fmt.Errorf("parse listing url: %w", err)
	}
	log := w.logger.With(zap.String("dimension", dim))

	s, err := w.sessions.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire listing session: %w", err)
	}
	defer w.sessions.Release(s)

	if err := s.Navigate(ctx, listing, w.cfg.ListingTimeout); err != nil {
		return 0, fmt.Errorf("open listing %s: %w", listing, err)
	}
	if w.cfg.ListingSelector != "" {
		if err := s.WaitVisible(ctx, w.cfg.ListingSelector, w.cfg.ListingTimeout); err != nil {
			return 0, fmt.Errorf("wait for listing: %w", err)
		}
	}

	processed, stalls := 0, 0
	for iter := 0; iter < w.cfg.MaxScrolls; iter++ {
		html, err := s.HTML(ctx)
		if err != nil {
			return processed, fmt.Errorf("read listing html: %w", err)
		}
		links, err := ExtractLinks(html, base, w.cfg.LinkSelectors, w.ids)
		if err != nil {
			return processed, err
		}
		fresh := 0
		for _, link := range links {
			if !w.seen.MarkIfNew(link) {
				continue
			}
			fresh++
			processed++
			if err := w.handler.HandleItem(ctx, link); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return processed, ctxErr
				}
				log.Warn("item failed", zap.String("url", link), zap.Error(err))
			}
		}
		metrics.ObserveScroll(dim, fresh)
		if fresh == 0 {
			stalls++
			if stalls >= w.cfg.StallLimit {
				log.Info("listing stalled", zap.Int("iteration", iter+1), zap.Int("stalls", stalls))
				return processed, nil
			}
		} else {
			stalls = 0
		}
		if err := s.Scroll(ctx, w.cfg.ScrollViewports); err != nil {
			return processed, fmt.Errorf("scroll listing: %w", err)
		}
		w.clock.Pause(ctx, w.cfg.SettleDelay)
		if err := ctx.Err(); err != nil {
			return processed, err
		}
	}
	log.Info("scroll cap reached", zap.Int("max_scrolls", w.cfg.MaxScrolls))
	return processed, nil
}

// Discoverer extracts and stores one item; it is the walker's item handler.
type Discoverer struct {
	extractor *Extractor
	upserter  *Upserter
}

// NewDiscoverer wires an extractor to an upserter.
func NewDiscoverer(extractor *Extractor, upserter *Upserter) *Discoverer {
	return &Discoverer{extractor: extractor, upserter: upserter}
}

// HandleItem implements ItemHandler.
func (d *Discoverer) HandleItem(ctx context.Context, rawURL string) error {
	metrics.ObserveItem("discover", "new")
	fields, ok, err := d.extractor.Extract(ctx, rawURL)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_, err = d.upserter.Upsert(ctx, fields)
	return err
}
