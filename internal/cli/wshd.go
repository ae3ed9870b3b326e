// Package cli implements the daemon and client command-line surfaces:
// `wshd serve` binds the daemon's Unix socket and runs the streaming
// server; `wsh` dials it to create, attach to, list, kill, or detach
// sessions. CLI parsing itself stays thin per spec's Non-goals — every
// subcommand is a few lines of flag wiring around internal/streamserver,
// internal/registry, and the wire protocol.
//
// Grounded on the teacher's cmd/h2/main.go + internal/cmd/root.go split
// (a minimal main.go that defers entirely to an internal package's
// cobra root command) and internal/cmd/daemon.go/attach.go for the
// daemon-launch and attach-loop shapes.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wsh/internal/config"
	"wsh/internal/registry"
	"wsh/internal/streamserver"
	"wsh/internal/version"
)

// NewWshdCmd creates the daemon's root cobra command.
func NewWshdCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "wshd",
		Short:   "wsh session daemon",
		Version: version.Version,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bind the daemon socket and serve sessions until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to $XDG_CONFIG_HOME/wsh/config.yaml)")
	return cmd
}

func runServe(configPath string) error {
	logger := slog.Default()

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("wshd: %w", err)
	}

	sockPath := socketPathForServe()
	ln, err := streamserver.Listen(sockPath)
	if err != nil {
		return fmt.Errorf("wshd: %w", err)
	}
	logger.Info("listening", "socket", sockPath)

	reg := registry.New(cfg.MaxSessions, logger)
	server := streamserver.NewServer(reg, cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx, ln) }()

	<-ctx.Done()
	logger.Info("shutting down", "reason", ctx.Err())

	drainCtx, drainCancel := context.WithTimeout(context.Background(), registry.DrainEscalationDelay+2*time.Second)
	defer drainCancel()
	reg.Drain(drainCtx)

	if err := <-serveErr; err != nil {
		return fmt.Errorf("wshd: %w", err)
	}
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

func socketPathForServe() string {
	return socketPath()
}
