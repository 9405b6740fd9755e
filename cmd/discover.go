package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/clock/system"
	"github.com/JakeFAU/marketplace-archiver/internal/crawler"
)

// newDiscoverCmd creates the discover command.
func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Walk the listings and record metadata for every unseen item.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runDiscover(cmd, rt)
		},
	}
}

func runDiscover(cmd *cobra.Command, rt *runtime) error {
	ctx := cmd.Context()
	logger := rt.logger

	store, err := openStore(ctx, rt.cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	sessions, err := newSessionManager(rt.cfg.BrowserConfig(), logger)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Warn("close browser", zap.Error(err))
		}
	}()

	clk := system.New()
	ids := crawler.NewIdentifierParser(rt.cfg.Catalog.IdentifierParam)
	nav := crawler.NewNavigator(rt.cfg.NavigationConfig(), clk, logger).WithAttempts(1)
	extractor := crawler.NewExtractor(store, sessions, nav, ids, rt.cfg.FieldMap(), logger)
	upserter := crawler.NewUpserter(store, logger)
	walker := crawler.NewWalker(rt.cfg.WalkerConfig(), sessions, crawler.NewDiscoverer(extractor, upserter), ids, clk, logger)

	start := clk.Now()
	processed, err := walker.Walk(ctx)
	if err != nil {
		return err
	}
	logger.Info("discovery complete",
		zap.Int("processed", processed),
		zap.Duration("elapsed", clk.Now().Sub(start)),
	)
	return nil
}
