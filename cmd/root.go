// Package cmd defines the archiver command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-archiver/internal/config"
	"github.com/JakeFAU/marketplace-archiver/internal/id/uuid"
	"github.com/JakeFAU/marketplace-archiver/internal/logging"
	"github.com/JakeFAU/marketplace-archiver/internal/metrics"
	"github.com/JakeFAU/marketplace-archiver/internal/telemetry"
)

// runtimeKeyType is the key for storing the runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries what every subcommand needs.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	tracer *sdktrace.TracerProvider
	runID  string
}

type rootOptions struct {
	configFile  string
	metricsAddr string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "archiver",
		Short: "Catalogs and archives Visual Studio Code marketplace items.",
		Long: `archiver walks the marketplace listings in a headless browser, records
every item's metadata in a local store, and mirrors each item page into a
folder of cleaned HTML.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			if rt.cfg.Metrics.Addr != "" {
				if err := startMetrics(cmd.Context(), rt); err != nil {
					return err
				}
			}
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok && rt != nil {
				if err := rt.tracer.Shutdown(context.Background()); err != nil {
					rt.logger.Warn("shutdown tracer provider", zap.Error(err))
				}
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides metrics.addr)")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newArchiveCmd())

	return cmd
}

func newRuntime(cmd *cobra.Command, opts *rootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("run_id", runID), zap.String("command", cmd.Name()))
	zap.ReplaceGlobals(logger)
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(cmd.Context(), runID)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	return &runtime{cfg: cfg, logger: logger, tracer: tp, runID: runID}, nil
}

func startMetrics(ctx context.Context, rt *runtime) error {
	srv, err := metrics.Listen(rt.cfg.Metrics.Addr, rt.logger)
	if err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			rt.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute runs the command tree until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}
