package health

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"
)

// Set with -ldflags "-X github.com/Khoshtrip/backend/health.Commit=..." in
// release builds; otherwise recovered from the embedded VCS stamp.
var (
	Commit    = ""
	BuildTime = ""
)

type BuildInfo struct {
	GitCommit string
	BuildTime time.Time
	Modified  bool
	GoVersion string
}

func readBuildInfo() BuildInfo {
	info := BuildInfo{
		GitCommit: Commit,
		GoVersion: runtime.Version(),
	}

	if BuildTime != "" {
		if parsed, err := time.Parse(time.RFC3339, BuildTime); err == nil {
			info.BuildTime = parsed
		}
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				if info.GitCommit == "" {
					info.GitCommit = setting.Value
				}
			case "vcs.time":
				if info.BuildTime.IsZero() {
					if parsed, err := time.Parse(time.RFC3339, setting.Value); err == nil {
						info.BuildTime = parsed
					}
				}
			case "vcs.modified":
				info.Modified = setting.Value == "true"
			}
		}
	}

	if info.GitCommit == "" {
		info.GitCommit = "unknown"
	}

	return info
}

func getBuildInfo() string {
	info := readBuildInfo()

	commit := info.GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if info.Modified {
		commit += "-dirty"
	}

	built := "unknown"
	if !info.BuildTime.IsZero() {
		built = info.BuildTime.Format("2006-01-02")
	}

	return fmt.Sprintf("%s (%s, %s)", commit, built, info.GoVersion)
}
