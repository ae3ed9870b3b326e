// Package socketdir resolves the single Unix socket path the daemon
// listens on and clients connect to.
//
// Grounded on the teacher's internal/socketdir package: the runtime
// directory resolution and the symlink-when-too-long strategy for
// sockaddr_un's ~104-byte path limit are carried forward unchanged in
// idiom, generalized from "one socket per named agent" to the spec's
// single socket in front of a session registry.
package socketdir

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"
)

// maxSocketPathLen is the conservative limit for Unix domain socket
// paths; macOS has sizeof(sockaddr_un.sun_path) == 104, so 100 leaves
// room for the socket filename itself.
const maxSocketPathLen = 100

const socketName = "wsh.sock"

// RuntimeDir resolves the directory wsh stores its runtime state in:
// $XDG_RUNTIME_DIR if set, else /tmp/wsh-<user>.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	name := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		name = u.Username
	}
	return filepath.Join(os.TempDir(), "wsh-"+name)
}

var (
	resolved    string
	resolveOnce sync.Once
)

// SocketPath returns the daemon's Unix socket path, resolving and
// caching it on first call. If the natural path would exceed
// maxSocketPathLen, a symlink from a short hashed path in TMPDIR is
// created and returned instead, exactly as the teacher's per-agent
// socket resolution does for its own sockets directory.
func SocketPath() string {
	resolveOnce.Do(func() {
		resolved = Resolve(RuntimeDir())
	})
	return resolved
}

// ResetCache clears the cached SocketPath result. For tests only.
func ResetCache() {
	resolveOnce = sync.Once{}
	resolved = ""
}

// Resolve computes the socket path for a given runtime directory,
// applying the too-long-path symlink fallback.
func Resolve(runtimeDir string) string {
	realPath := filepath.Join(runtimeDir, socketName)
	if len(realPath) <= maxSocketPathLen {
		return realPath
	}

	hash := sha256.Sum256([]byte(runtimeDir))
	shortDir := filepath.Join(os.TempDir(), fmt.Sprintf("wsh-%x", hash[:8]))
	shortPath := filepath.Join(shortDir, socketName)

	if target, err := os.Readlink(shortDir); err == nil && target == runtimeDir {
		return shortPath
	}

	os.MkdirAll(runtimeDir, 0o700)
	os.Remove(shortDir)
	if err := os.Symlink(runtimeDir, shortDir); err != nil {
		return realPath
	}
	return shortPath
}

// EnsureDir creates the socket's parent directory if it does not exist.
func EnsureDir(socketPath string) error {
	return os.MkdirAll(filepath.Dir(socketPath), 0o700)
}
