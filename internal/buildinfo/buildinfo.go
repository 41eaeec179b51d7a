// Package buildinfo holds the version stamped into nokiawifi at build
// time. The router sees it in the User-Agent and Home Assistant sees it
// as the router device's sw_version.
package buildinfo

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X github.com/nugget/nokiawifi/internal/buildinfo.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// keys is the display order of [Info] for the version command.
var keys = []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"}

// Keys returns the keys of [Info] in display order.
func Keys() []string {
	return append([]string(nil), keys...)
}

// Info returns build details keyed for text or JSON output.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// LogAttrs returns the build as slog key/value pairs for the startup line.
func LogAttrs() []any {
	return []any{
		"version", Version,
		"commit", GitCommit,
		"branch", GitBranch,
		"built", BuildTime,
	}
}

// String returns a one-line summary.
func String() string {
	return fmt.Sprintf("nokiawifi %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}

// UserAgent is sent on every request to the router.
func UserAgent() string {
	return fmt.Sprintf("nokiawifi/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}
