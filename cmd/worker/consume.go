package main

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thebtf/incident-cluster/internal/stream"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "cluster batches read from the Redis events stream",
	RunE:  runConsume,
}

func runConsume(cmd *cobra.Command, args []string) error {
	cfg, eng, err := setup()
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled() {
		return errors.New("REDIS_URL is required for consume")
	}

	pool := stream.NewPool(cfg.Redis.URL)
	defer func() { _ = pool.Close() }()

	ctx, stop := signalContext()
	defer stop()

	consumer := stream.NewConsumer(pool, eng, cfg.Redis)
	if err := consumer.Run(ctx); err != nil {
		return err
	}

	log.Info().Msg("Stream consumer stopped")
	return nil
}
