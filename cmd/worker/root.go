package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thebtf/incident-cluster/internal/config"
	"github.com/thebtf/incident-cluster/internal/engine"
	"github.com/thebtf/incident-cluster/internal/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "incident-cluster",
	Short: "density clustering of news embeddings into incidents",
	Long: `
incident-cluster groups embedding vectors with DBSCAN and discards clusters
fed by a single outlet. It serves requests over HTTP and can also consume
batches from a Redis stream.
`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, consumeCmd, healthCmd)
}

// setup loads configuration, applies the log level and builds the engine.
func setup() (config.Config, *engine.Engine, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ins, err := metrics.Default()
	if err != nil {
		return config.Config{}, nil, err
	}

	return cfg, engine.New(cfg, ins), nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
