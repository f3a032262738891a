// Package version holds build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// GetInfo returns a one-line build description.
func GetInfo() string {
	return fmt.Sprintf("%s (commit %s, built %s, %s)", Version, Commit, BuildTime, runtime.Version())
}
