// Package version holds the daemon/client build version.
package version

// Version is the wsh release version, overridable at build time via
// -ldflags "-X wsh/internal/version.Version=...".
var Version = "0.1.0"
