package cli

import "wsh/internal/socketdir"

// socketPath resolves the daemon's Unix socket path, same for both the
// serving side and every client subcommand.
func socketPath() string {
	return socketdir.SocketPath()
}
