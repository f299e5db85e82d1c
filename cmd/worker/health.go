package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thebtf/incident-cluster/internal/config"
	"github.com/thebtf/incident-cluster/pkg/client"
)

var healthURL string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "probe a running instance, exit non-zero when it is down",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := healthURL
		if url == "" {
			url = localURL(os.LookupEnv)
		}

		if !client.New(url, "").IsRunning(context.Background()) {
			return errors.New("service is not healthy")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthURL, "url", "", "base URL of the instance (default: loopback on the configured port)")
}

// localURL resolves the loopback address of the instance from the same
// configuration sources serve uses. An unloadable configuration falls back
// to the default port.
func localURL(lookup config.LookupFunc) string {
	port := config.DefaultPort
	cfg, err := config.Load(lookup)
	if err != nil {
		log.Warn().Err(err).Int("port", port).Msg("Cannot load configuration, probing default port")
	} else {
		port = cfg.Port
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}
