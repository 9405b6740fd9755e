package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
)

// BatchDriver archives every un-archived record under a session pool.
type BatchDriver struct {
	cfg      BatchConfig
	archiver *Archiver
	sessions SessionManager
	store    RecordStore
	clock    Clock
	logger   *zap.Logger
}

// NewBatchDriver builds a BatchDriver.
func NewBatchDriver(
	cfg BatchConfig,
	archiver *Archiver,
	sessions SessionManager,
	store RecordStore,
	clock Clock,
	logger *zap.Logger,
) *BatchDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchDriver{
		cfg:      cfg,
		archiver: archiver,
		sessions: sessions,
		store:    store,
		clock:    clock,
		logger:   logger.Named("batch"),
	}
}

type itemResult struct {
	url     string
	outcome Outcome
	err     error
}

// Run loads the un-archived records and archives them in outer batches of
// SessionPool*SubBatch items. Per-item failures end up in the summary; only
// setup failures and cancellation are returned.
func (d *BatchDriver) Run(ctx context.Context) (BatchSummary, error) {
	start := d.clock.Now()
	records, err := d.store.ListUnarchived(ctx)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("list unarchived records: %w", err)
	}
	summary := BatchSummary{Total: len(records)}
	if len(records) == 0 {
		d.logger.Info("no un-archived records")
		return summary, nil
	}
	d.logger.Info("archive run starting",
		zap.Int("records", len(records)),
		zap.Int("session_pool", d.cfg.pool()),
		zap.Int("sub_batch", d.cfg.sub()),
	)

	outer := d.cfg.OuterBatchSize()
	for lo := 0; lo < len(records); lo += outer {
		hi := min(lo+outer, len(records))
		results, err := d.runOuter(ctx, records[lo:hi])
		for _, r := range results {
			summary.add(r)
		}
		if err != nil {
			summary.Elapsed = d.clock.Now().Sub(start)
			return summary, fmt.Errorf("%w: %w", ErrBatchAborted, err)
		}
		d.logProgress(summary, start)
		if hi < len(records) {
			d.clock.Pause(ctx, d.cfg.OuterBatchDelay)
			if err := ctx.Err(); err != nil {
				summary.Elapsed = d.clock.Now().Sub(start)
				return summary, fmt.Errorf("%w: %w", ErrBatchAborted, err)
			}
		}
	}
	summary.Elapsed = d.clock.Now().Sub(start)
	d.logSummary(summary)
	return summary, nil
}

func (d *BatchDriver) runOuter(ctx context.Context, batch []Record) ([]itemResult, error) {
	pool := make([]pooledSession, 0, d.cfg.pool())
	defer func() {
		for _, s := range pool {
			d.sessions.Release(s.Session)
		}
		metrics.SetPooledSessions(0)
	}()
	for range d.cfg.pool() {
		s, err := d.sessions.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire pooled session: %w", err)
		}
		pool = append(pool, newPooledSession(s))
	}
	metrics.SetPooledSessions(len(pool))

	results := make([]itemResult, 0, len(batch))
	sub := d.cfg.sub()
	for lo := 0; lo < len(batch); lo += sub {
		hi := min(lo+sub, len(batch))
		part := make([]itemResult, hi-lo)
		var g errgroup.Group
		g.SetLimit(sub)
		for i, rec := range batch[lo:hi] {
			session := pool[i%len(pool)]
			g.Go(func() error {
				part[i] = d.archiveItem(ctx, rec, session)
				return nil
			})
		}
		_ = g.Wait()
		results = append(results, part...)
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if hi < len(batch) {
			d.clock.Pause(ctx, d.cfg.SubBatchDelay)
		}
	}
	return results, nil
}

func (d *BatchDriver) archiveItem(ctx context.Context, rec Record, s Session) itemResult {
	if rec.URL == nil || *rec.URL == "" {
		d.logger.Warn("record has no url", zap.String("identifier", rec.Identifier))
		return itemResult{url: rec.Identifier, err: fmt.Errorf("record %s has no url: %w", rec.Identifier, ErrMissingIdentifier)}
	}
	rawURL := *rec.URL
	var outcome Outcome
	err := d.cfg.Retry.Do(ctx, d.clock, func(ctx context.Context, attempt int) error {
		o, err := d.archiver.Archive(ctx, rawURL, s)
		if err != nil {
			if !permanent(err) {
				d.logger.Warn("archive attempt failed",
					zap.String("url", rawURL),
					zap.Int("attempt", attempt),
					zap.Int("max_attempts", d.cfg.Retry.Attempts()),
					zap.Error(err),
				)
			}
			return err
		}
		outcome = o
		return nil
	})
	return itemResult{url: rawURL, outcome: outcome, err: err}
}

func (s *BatchSummary) add(r itemResult) {
	switch {
	case r.err == nil && r.outcome == OutcomeAlreadyArchived:
		s.AlreadyArchived++
	case r.err == nil:
		s.Archived++
	case permanent(r.err):
		s.Skipped++
	default:
		s.Failed = append(s.Failed, Failure{URL: r.url, Err: r.err.Error()})
	}
}

func (d *BatchDriver) logProgress(s BatchSummary, start time.Time) {
	elapsed := d.clock.Now().Sub(start)
	done := s.Processed()
	d.logger.Info("archive progress",
		zap.Int("processed", done),
		zap.Int("total", s.Total),
		zap.Float64("percent", percent(done, s.Total)),
		zap.Float64("items_per_second", rate(done, elapsed)),
		zap.Int("failed", len(s.Failed)),
	)
}

func (d *BatchDriver) logSummary(s BatchSummary) {
	d.logger.Info("archive run complete",
		zap.Int("total", s.Total),
		zap.Int("archived", s.Archived),
		zap.Int("already_archived", s.AlreadyArchived),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", len(s.Failed)),
		zap.Duration("elapsed", s.Elapsed),
		zap.Float64("items_per_second", rate(s.Processed(), s.Elapsed)),
	)
	for _, f := range s.Failed {
		d.logger.Error("permanently failed", zap.String("url", f.URL), zap.String("error", f.Err))
	}
}

func percent(done, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}

func rate(done int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(done) / elapsed.Seconds()
}
