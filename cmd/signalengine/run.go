package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sharplee/signalcore/internal/ingestion"
	"github.com/sharplee/signalcore/internal/metrics"
)

// startupDeadline bounds how long INIT through CUTOVER may take before the
// whole process is considered failed (spec "Startup phases INIT->LIVE must
// complete within a configured total deadline or fail the whole process").
const startupDeadline = 5 * time.Minute

// metricsSampleInterval is how often the ingestion phase gauge and stale-bar
// counter are refreshed; the pipeline changes phase far less often than it
// processes bars, so polling beats a second observer wiring.
const metricsSampleInterval = 5 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the live ingestion pipeline and signal engine.",
		RunE:  runRun,
	}
	addCommonFlags(cmd)
	cmd.Flags().String("addr", ":8090", "Health and metrics HTTP listen address")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	c, err := buildComponents(cmd, "signalengine")
	if err != nil {
		return err
	}
	defer c.close()

	c.log.Info().Strs("instruments", c.instruments).Msg("instrument universe resolved")

	pipeline := ingestion.New(ingestion.Deps{
		Log:         c.log,
		Core:        c.core,
		Source:      c.source,
		BarStore:    c.bars,
		SignalStore: c.signals,
		StreakStore: c.streaks,
		Checkpoints: c.checkpoints,
		Config:      c.cfg.Ingestion,
		Instruments: c.instruments,
	})

	poller := metrics.NewIngestionPoller(c.registry, c.log, func() string {
		return string(pipeline.Phase())
	}, pipeline.StaleBarCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go poller.Run(ctx, metricsSampleInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "phase=%s\n", pipeline.Phase())
	})
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		c.log.Info().Str("addr", addr).Msg("health and metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	pipelineErrCh := make(chan error, 1)
	go func() {
		pipelineErrCh <- pipeline.Run(ctx, startupDeadline)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		c.log.Info().Msg("shutdown signal received")
	case err := <-pipelineErrCh:
		cancel()
		shutdownServer(c, server)
		if err != nil {
			return fmt.Errorf("ingestion pipeline exited: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		cancel()
		return fmt.Errorf("health server error: %w", err)
	}

	cancel()

	select {
	case err := <-pipelineErrCh:
		if err != nil {
			c.log.Error().Err(err).Msg("ingestion pipeline returned error during shutdown")
		}
	case <-time.After(30 * time.Second):
		c.log.Warn().Msg("ingestion pipeline did not stop within the shutdown window")
	}

	shutdownServer(c, server)
	c.log.Info().Msg("signalengine shutdown complete")
	return nil
}

func shutdownServer(c *components, server *http.Server) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		c.log.Error().Err(err).Msg("health server shutdown error")
	}
}
