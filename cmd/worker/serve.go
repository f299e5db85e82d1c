package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thebtf/incident-cluster/internal/stream"
	"github.com/thebtf/incident-cluster/internal/worker"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, eng, err := setup()
	if err != nil {
		return err
	}

	log.Info().
		Str("version", Version).
		Str("dbscan_version", cfg.Version).
		Msg("Starting incident-cluster worker")

	var producer *stream.Producer
	if cfg.Redis.Enabled() {
		pool := stream.NewPool(cfg.Redis.URL)
		defer func() { _ = pool.Close() }()
		producer = stream.NewProducer(pool, cfg.Redis.EventsStream)
	}

	svc := worker.NewService(cfg, eng, producer)
	if err := svc.Start(); err != nil {
		return err
	}

	// Wait for shutdown signal
	ctx, stop := signalContext()
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Received shutdown signal")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return svc.Shutdown(shutdownCtx)
}
