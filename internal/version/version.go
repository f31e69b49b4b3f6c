package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	CommitID  = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string
	GoVersion string
	Commit    string
	Built     string
	Platform  string
}

// Get returns build information. Commit and build time fall back to the
// VCS stamp the Go toolchain embeds when ldflags were not set.
func Get() Info {
	commit, built := CommitID, BuildTime
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "unknown":
				commit = s.Value
				if len(commit) > 12 {
					commit = commit[:12]
				}
			case s.Key == "vcs.time" && built == "unknown":
				built = s.Value
			}
		}
	}
	return Info{
		Version:   Version,
		GoVersion: runtime.Version(),
		Commit:    commit,
		Built:     humanTime(built),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("avmux %s (%s, %s, %s)", i.Version, i.Commit, i.GoVersion, i.Platform)
}

func humanTime(s string) string {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}
