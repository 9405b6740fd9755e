package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/clock/system"
	"github.com/JakeFAU/marketplace-archiver/internal/crawler"
	"github.com/JakeFAU/marketplace-archiver/internal/storage/local"
)

type archiveOptions struct {
	url string
}

// newArchiveCmd creates the archive command.
func newArchiveCmd() *cobra.Command {
	opts := &archiveOptions{}
	cmd := &cobra.Command{
		Use:   "archive <destination>",
		Short: "Mirror every un-archived item into folders under destination.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runArchive(cmd, rt, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "archive only this item page")
	return cmd
}

func runArchive(cmd *cobra.Command, rt *runtime, destination string, opts *archiveOptions) error {
	ctx := cmd.Context()
	logger := rt.logger

	root, err := filepath.Abs(destination)
	if err != nil {
		return fmt.Errorf("resolve destination: %w", err)
	}
	layout, err := local.NewLayout(root)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("destination", layout.Root()))

	store, err := openStore(ctx, rt.cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	sinks, closeSinks, err := archiverOptions(ctx, rt.cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

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
	nav := crawler.NewNavigator(rt.cfg.NavigationConfig(), clk, logger)
	archiver := crawler.NewArchiver(store, sessions, nav, ids, layout, clk, logger, sinks)

	if opts.url != "" {
		return archiveOne(cmd, archiver, opts.url, logger)
	}

	driver := crawler.NewBatchDriver(rt.cfg.BatchConfig(), archiver, sessions, store, clk, logger)
	if _, err := driver.Run(ctx); err != nil {
		return err
	}
	return nil
}

// archiveOne runs the single-item path. Skippable conditions are logged and
// do not fail the command.
func archiveOne(cmd *cobra.Command, archiver *crawler.Archiver, url string, logger *zap.Logger) error {
	outcome, err := archiver.Archive(cmd.Context(), url, nil)
	switch {
	case errors.Is(err, crawler.ErrMissingIdentifier), errors.Is(err, crawler.ErrRecordNotFound):
		logger.Warn("item skipped", zap.String("url", url), zap.Error(err))
		return nil
	case err != nil:
		return fmt.Errorf("archive %s: %w", url, err)
	}
	logger.Info("archive finished", zap.String("url", url), zap.Stringer("outcome", outcome))
	return nil
}
