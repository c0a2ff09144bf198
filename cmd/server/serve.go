package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/live-playground/internal/runtime/docker"
	"github.com/sakif/live-playground/internal/server"
)

func newServeCmd(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the playground HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			logger := newLogger(os.Stdout, cfg.Level())

			// docker.New does not contact the daemon. Without one the server
			// still starts and runs fail with runtime_unavailable.
			host, err := docker.New(cfg.Runtime.Docker(), logger)
			if err != nil {
				return fmt.Errorf("creating docker client: %w", err)
			}
			defer func() {
				if err := host.Close(); err != nil {
					logger.Warn("closing docker client", slog.String("error", err.Error()))
				}
			}()

			srv, err := server.New(cfg, host, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			// blocks until SIGINT or SIGTERM
			return srv.Start()
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides the config)")
	return cmd
}
