package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/browser"
	"github.com/JakeFAU/marketplace-archiver/internal/config"
	"github.com/JakeFAU/marketplace-archiver/internal/crawler"
	"github.com/JakeFAU/marketplace-archiver/internal/hash/sha256"
	memorypublisher "github.com/JakeFAU/marketplace-archiver/internal/publisher/memory"
	"github.com/JakeFAU/marketplace-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/marketplace-archiver/internal/storage/gcs"
	"github.com/JakeFAU/marketplace-archiver/internal/storage/local"
	"github.com/JakeFAU/marketplace-archiver/internal/storage/memory"
	"github.com/JakeFAU/marketplace-archiver/internal/storage/postgres"
	"github.com/JakeFAU/marketplace-archiver/internal/storage/sqlite"
)

// sessionManager is a crawler.SessionManager that owns a browser process.
type sessionManager interface {
	crawler.SessionManager
	Close() error
}

// newSessionManager launches the browser. Tests replace it with a fake.
var newSessionManager = func(cfg browser.Config, logger *zap.Logger) (sessionManager, error) {
	return browser.New(cfg, logger)
}

// openStore opens the configured persistence service.
func openStore(ctx context.Context, cfg config.StoreConfig) (crawler.RecordStore, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Path, AutoMigrate: cfg.AutoMigrate})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorePostgres:
		store, err := postgres.NewItemStore(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			AutoMigrate:     cfg.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		return memory.NewRecordStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// archiverOptions opens the optional mirror and notification sinks. The
// returned func releases them.
func archiverOptions(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.ArchiverOptions, func(), error) {
	opts := crawler.ArchiverOptions{MirrorPrefix: cfg.Mirror.Prefix, Topic: cfg.Notify.Topic, Hasher: sha256.New()}
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close sink", zap.Error(err))
			}
		}
	}

	switch {
	case cfg.Mirror.GCSBucket != "":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Mirror.GCSBucket})
		if err != nil {
			return opts, cleanup, fmt.Errorf("open snapshot mirror: %w", err)
		}
		closers = append(closers, store.Close)
		opts.Mirror = store
	case cfg.Mirror.LocalDir != "":
		store, err := local.New(local.Config{BaseDir: cfg.Mirror.LocalDir})
		if err != nil {
			return opts, cleanup, fmt.Errorf("open snapshot mirror: %w", err)
		}
		opts.Mirror = store
	}

	switch cfg.Notify.Driver {
	case config.NotifyPubSub:
		pub, err := pubsub.Open(ctx, cfg.Notify.Project)
		if err != nil {
			cleanup()
			return opts, func() {}, fmt.Errorf("open notifier: %w", err)
		}
		closers = append(closers, pub.Close)
		opts.Publisher = pub
	case config.NotifyMemory:
		pub := memorypublisher.New()
		closers = append(closers, func() error {
			logger.Info("notifications recorded", zap.Int("count", len(pub.Messages())))
			return nil
		})
		opts.Publisher = pub
	}
	return opts, cleanup, nil
}
