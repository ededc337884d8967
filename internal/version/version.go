package version

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/smazurov/v4l2queue/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildDate = ""
)

// Info is reported by /api/version.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var vcs = sync.OnceValue(func() Info {
	info := Info{GitCommit: "unknown", BuildDate: "unknown"}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.GitCommit = s.Value
		case "vcs.time":
			info.BuildDate = s.Value
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	return info
})

// Get returns build metadata. Values missing from ldflags come from the
// VCS stamp the go tool embeds.
func Get() Info {
	info := vcs()
	info.Version = Version
	if GitCommit != "" {
		info.GitCommit = GitCommit
	}
	if BuildDate != "" {
		info.BuildDate = BuildDate
	}
	info.GoVersion = runtime.Version()
	info.Platform = runtime.GOOS + "/" + runtime.GOARCH
	return info
}

// String returns the application version.
func String() string {
	return Version
}

// ClientName identifies this build to peers such as the NATS server,
// e.g. "v4l2queue/1.2.0 (3f2c9e1)".
func ClientName() string {
	name := "v4l2queue/" + Version
	if commit := Get().GitCommit; commit != "unknown" {
		if len(commit) > 7 {
			commit = commit[:7]
		}
		name += " (" + commit + ")"
	}
	return name
}
