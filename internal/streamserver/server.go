package streamserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"wsh/internal/config"
	"wsh/internal/registry"
	"wsh/internal/session"
	"wsh/internal/taskrunner"
)

// Server dispatches accepted connections against one SessionRegistry,
// per spec §4.8.
type Server struct {
	registry *registry.Registry
	cfg      config.Config
	logger   *slog.Logger
}

// NewServer creates a Server. logger defaults to slog.Default() if nil.
func NewServer(reg *registry.Registry, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: reg, cfg: cfg, logger: logger}
}

// Serve accepts connections on ln until ctx is canceled or Accept fails.
// Each connection is handled on its own goroutine, recovered by
// taskrunner.Go so one connection's panic can't take the daemon down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	taskrunner.Go(s.logger, "streamserver.closeOnCancel", func() {
		<-ctx.Done()
		ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("streamserver: accept: %w", err)
		}
		taskrunner.Go(s.logger, "streamserver.handleConn", func() {
			s.handleConn(ctx, conn)
		})
	}
}

// lookupSession resolves a registered session by name into its concrete
// type, which carries the full API (Parser/Broker/Resize/Connect/...)
// the registry.Session interface deliberately doesn't expose.
func (s *Server) lookupSession(name string) (*session.Session, bool) {
	rs, ok := s.registry.Get(name)
	if !ok {
		return nil, false
	}
	sess, ok := rs.(*session.Session)
	return sess, ok
}
