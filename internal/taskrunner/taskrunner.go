// Package taskrunner provides a small guard for long-lived background
// goroutines: a panic inside one is recovered, logged with a stack
// trace, and the goroutine exits instead of taking the whole process
// down with it.
//
// Grounded on ehrlich-b-wingthing/internal/egg/server.go's gRPC
// recovery interceptors (recover + runtime.Stack + log), generalized
// from "recover one RPC call" to "recover one long-lived goroutine" —
// every worker goroutine in this daemon (PTY reader/writer/child-waiter,
// the VT parser task, the registry's child-exit monitor, one per
// streaming connection) is launched through Go so a single bad panic
// degrades one session or connection instead of the daemon.
package taskrunner

import (
	"log/slog"
	"runtime"
)

// Go runs fn in a new goroutine, recovering any panic: it is logged
// with a stack trace via logger (slog.Default() if nil) under name, and
// the goroutine then exits instead of propagating the panic.
func Go(logger *slog.Logger, name string, fn func()) {
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 16384)
				n := runtime.Stack(buf, false)
				logger.Error("panic in background task", "task", name, "panic", r, "stack", string(buf[:n]))
			}
		}()
		fn()
	}()
}
