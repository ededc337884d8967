package version

import (
	"strings"
	"testing"
)

func TestGetPrefersLinkerValues(t *testing.T) {
	oldVersion, oldCommit, oldDate := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = oldVersion, oldCommit, oldDate })

	Version, GitCommit, BuildDate = "1.2.0", "3f2c9e1a77d04b", "2026-10-01"
	info := Get()
	if info.Version != "1.2.0" || info.GitCommit != "3f2c9e1a77d04b" || info.BuildDate != "2026-10-01" {
		t.Errorf("Get() = %+v", info)
	}
	if info.GoVersion == "" || !strings.Contains(info.Platform, "/") {
		t.Errorf("runtime fields missing: %+v", info)
	}
	if got, want := ClientName(), "v4l2queue/1.2.0 (3f2c9e1)"; got != want {
		t.Errorf("ClientName() = %q, want %q", got, want)
	}
}

func TestClientNameWithoutCommit(t *testing.T) {
	if Get().GitCommit != "unknown" {
		t.Skip("test binary carries a VCS stamp")
	}
	if got := ClientName(); got != "v4l2queue/"+Version {
		t.Errorf("ClientName() = %q", got)
	}
}
