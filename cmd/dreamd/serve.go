package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dreamd/internal/dreamer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the consolidation daemon",
	Long: `Run the consolidation daemon: replays the episode and rule journals,
starts the scheduled consolidation loop, and exposes Prometheus metrics.

Examples:
  # Run with defaults
  dreamd serve

  # Run with a custom config
  dreamd serve --config ./dreamd.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.close()

	scheduler, err := dreamer.NewScheduler(p.dreamer, logger.Named("scheduler"),
		dreamer.WithInterval(cfg.Consolidation.Interval))
	if err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("dreamd started",
		zap.String("version", version),
		zap.Duration("interval", cfg.Consolidation.Interval),
	)

	err = p.dreamer.Run(ctx)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if errors.Is(err, context.Canceled) {
		logger.Info("dreamd shutdown complete")
		return nil
	}
	return err
}
