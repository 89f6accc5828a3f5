// Package version holds build information injected with -ldflags.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "0.1.0-dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = "unknown"
)

func SetInfo(v, bt, gc, gv string) {
	if v != "" {
		Version = v
	}
	if bt != "" {
		BuildTime = bt
	}
	if gc != "" {
		GitCommit = gc
	}
	if gv != "" {
		GoVersion = gv
	}
}

// Info is a snapshot of the build information.
type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	GitCommit string `json:"gitCommit"`
	GoVersion string `json:"goVersion"`
}

// Get returns the build information, filling the commit and Go version from
// the embedded module build info when they were not injected.
func Get() Info {
	info := Info{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit, GoVersion: GoVersion}
	if info.GoVersion == "unknown" {
		info.GoVersion = runtime.Version()
	}
	if info.GitCommit == "unknown" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" && s.Value != "" {
					info.GitCommit = s.Value
				}
			}
		}
	}
	return info
}

// String renders the info on one line.
func (i Info) String() string {
	return fmt.Sprintf("jobrelay %s (commit %s, built %s, %s)", i.Version, i.GitCommit, i.BuildTime, i.GoVersion)
}

// FormatStartupMessage is logged once when the service starts.
func FormatStartupMessage() string {
	return fmt.Sprintf("jobrelay started, version %s, build %s", Version, BuildTime)
}
