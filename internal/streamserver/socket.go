// Package streamserver implements the per-connection streaming protocol
// server: the accept loop over a Unix socket, the initial-frame
// dispatch (CreateSession/AttachSession plus the short one-shot
// ListSessions/KillSession/DetachSession requests), and the
// non-terminating streaming phase each attached connection runs.
//
// Grounded on the teacher's internal/daemon.Daemon.Run accept-loop shape
// (stat-then-dial-then-remove stale socket, one goroutine per
// connection) and internal/daemon/daemon.go's acceptLoop, widened from
// "one socket per named agent, one client" into one socket in front of
// a session registry serving many concurrent clients.
package streamserver

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"wsh/internal/socketdir"
)

// ErrAddrInUse is returned by Listen when a live daemon already holds
// the socket.
var ErrAddrInUse = errors.New("streamserver: address already in use")

// staleDialTimeout bounds how long Listen waits to find out whether an
// existing socket file is live or abandoned.
const staleDialTimeout = 500 * time.Millisecond

// Listen binds the daemon's Unix socket at path, per spec §6: if the
// socket file exists but nothing answers a dial, it's stale and is
// removed before binding; if something does answer, a live daemon owns
// it and Listen fails with ErrAddrInUse. Grounded on the teacher's
// internal/daemon.Daemon.Run (stat, dial, remove-if-stale).
func Listen(path string) (net.Listener, error) {
	if err := socketdir.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("streamserver: ensure socket dir: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		conn, dialErr := net.DialTimeout("unix", path, staleDialTimeout)
		if dialErr == nil {
			conn.Close()
			return nil, ErrAddrInUse
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("streamserver: remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("streamserver: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("streamserver: chmod socket: %w", err)
	}
	return ln, nil
}
