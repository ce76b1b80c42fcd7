// Package version holds build information injected with -ldflags.
package version

import "runtime"

// Set at build time, e.g.
//
//	go build -ldflags "-X github.com/NERVsystems/urbanmcp/pkg/version.Version=v0.2.0"
var (
	Version   = "0.1.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String returns the version string
func String() string {
	return Version
}

// Info returns build information as a flat map
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     Commit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}
}
