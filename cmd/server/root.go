package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/live-playground/internal/config"
)

// options are the flags shared by every command.
type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	serve := newServeCmd(opts)
	root := &cobra.Command{
		Use:   "playground",
		Short: "A live coding playground for frontend and Node.js backend frameworks",
		Long: `playground renders frontend framework code into standalone documents and
runs Node.js backends in a sandboxed container, streaming their terminal
output and announcing the URL once the server is up.

Configuration comes from defaults, an optional YAML file (--config) and
PLAYGROUND_* environment variables, e.g. PLAYGROUND_PORT=9090.

Without a subcommand, playground serves the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file")
	// serve's flags apply when it runs as the default command
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve)
	root.AddCommand(newRenderCmd(opts))
	root.AddCommand(newFrameworksCmd())
	return root
}

func loadConfig(opts *options) (*config.Config, error) {
	return config.Load(opts.configPath)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
