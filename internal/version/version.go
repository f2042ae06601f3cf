// Package version exposes build metadata. The variables are overwritten with
// -ldflags "-X github.com/kailas-cloud/ragdex/internal/version.Version=..." at release time.
package version

import "runtime/debug"

//nolint:revive,gochecknoglobals // ldflags targets
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build as "v1.2.3 (abc1234, 2026-01-02)".
func String() string {
	return Version + " (" + shortCommit() + ", " + Date + ")"
}

// UserAgent identifies ragdex to the HTTP collaborators it calls.
func UserAgent() string {
	return "ragdex/" + Version
}

// shortCommit falls back to the VCS stamp of `go build` when ldflags did not set one.
func shortCommit() string {
	c := Commit
	if c == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
				}
			}
		}
	}
	if len(c) > 7 {
		c = c[:7]
	}
	return c
}
