package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/acolita/replsh/internal/config"
	"github.com/acolita/replsh/internal/mcp"
	"github.com/acolita/replsh/internal/session"
	"github.com/spf13/cobra"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	var noRestore bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve sessions as MCP tools on stdio",
		Long: `Serve repl_session_create, repl_send, repl_interrupt, repl_session_list and
repl_session_close over the MCP stdio transport.

When --config is given the file is watched and the log level, command
filter, recording settings and session settings are reloaded on change.
Open sessions are remembered and reopened on the next start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd, g, noRestore)
		},
	}
	cmd.Flags().BoolVar(&noRestore, "no-restore", false, "Do not remember or reopen sessions across restarts")
	return cmd
}

func runMCP(cmd *cobra.Command, g *globalFlags, noRestore bool) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	slog.Info("starting replsh",
		slog.String("version", Version),
		slog.String("mode", cfg.Mode),
	)

	mcp.Version = Version
	var opts []mcp.ServerOption
	if !noRestore {
		opts = append(opts, mcp.WithSessionStore(session.NewSessionStore()))
	}
	server := mcp.NewServer(cfg, opts...)

	// Set up config hot-reload if config file was provided
	var configWatcher *config.Watcher
	if g.configPath != "" {
		var watcherErr error
		configWatcher, watcherErr = config.NewWatcher(g.configPath, func(newCfg *config.Config) {
			g.override(newCfg)
			server.UpdateConfig(newCfg)
		})
		if watcherErr != nil {
			slog.Warn("config hot-reload disabled",
				slog.String("error", watcherErr.Error()),
			)
		} else {
			slog.Info("config hot-reload enabled",
				slog.String("path", g.configPath),
			)
			defer configWatcher.Close()
		}
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		<-sigChan
		slog.Info("received shutdown signal")
		if configWatcher != nil {
			configWatcher.Close()
		}
		server.Shutdown()
		os.Exit(0)
	}()

	if err := server.Run(cmd.Context()); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}
