package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden with -ldflags "-X github.com/soyeahso/bizagent/internal/version.Version=...".
// Commit and Date fall back to the VCS stamp go build embeds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func init() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	stampFromVCS(bi.Settings)
}

func stampFromVCS(settings []debug.BuildSetting) {
	dirty := false
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" {
				Commit = s.Value
			}
		case "vcs.time":
			if Date == "unknown" {
				Date = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && Commit != "unknown" {
		Commit += "-dirty"
	}
}

// Info is the one-line banner printed by `bizagent version`.
func Info() string {
	return fmt.Sprintf("bizagent %s (commit %s, built %s, %s, %s/%s)",
		Version, short(Commit), Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// short trims a commit hash to seven characters, keeping a dirty marker.
func short(commit string) string {
	const n = 7
	const dirty = "-dirty"
	suffix := ""
	if len(commit) > len(dirty) && commit[len(commit)-len(dirty):] == dirty {
		commit, suffix = commit[:len(commit)-len(dirty)], dirty
	}
	if len(commit) > n {
		commit = commit[:n]
	}
	return commit + suffix
}
