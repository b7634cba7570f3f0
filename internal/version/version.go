// Package version reports how the sidepeek binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime time.Time `json:"build_time,omitzero"`
	GoVersion string    `json:"go_version"`
	Platform  string    `json:"platform"`
	Release   bool      `json:"release"`
	Dirty     bool      `json:"dirty"`
}

// These variables are set at build time using -ldflags
var (
	// Version is the semantic version of the application
	Version = "dev"

	// GitCommit is the git commit hash when the binary was built
	GitCommit = "unknown"

	// BuildTime is the time when the binary was built (RFC3339 format)
	BuildTime = "unknown"
)

// GetBuildInfo returns comprehensive build information
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   GetVersion(),
		GitCommit: GetGitCommit(),
		BuildTime: parseBuildTime(BuildTime),
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Release:   IsRelease(),
		Dirty:     IsDirty(),
	}
}

// GetVersion returns the application version
func GetVersion() string {
	if Version != "" && Version != "dev" {
		return Version
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
		if rev := setting(info, "vcs.revision"); len(rev) >= 7 {
			return "dev-" + rev[:7]
		}
	}

	return "dev"
}

// GetGitCommit returns the git commit hash
func GetGitCommit() string {
	if GitCommit != "" && GitCommit != "unknown" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if rev := setting(info, "vcs.revision"); rev != "" {
			return rev
		}
	}
	return "unknown"
}

// GetShortVersion returns a short version string suitable for display
func GetShortVersion() string {
	version := GetVersion()
	commit := GetGitCommit()

	if commit != "unknown" && len(commit) >= 7 && !strings.HasPrefix(version, "dev-") {
		return fmt.Sprintf("%s (%s)", version, commit[:7])
	}
	return version
}

// GetDetailedVersion returns a detailed version string with all build info
func GetDetailedVersion() string {
	info := GetBuildInfo()

	parts := []string{"Version: " + info.Version}
	if info.GitCommit != "unknown" {
		parts = append(parts, "Commit: "+info.GitCommit)
	}
	if !info.BuildTime.IsZero() {
		parts = append(parts, "Built: "+info.BuildTime.Format(time.RFC3339))
	}
	parts = append(parts, "Go: "+info.GoVersion, "Platform: "+info.Platform)
	if info.Dirty {
		parts = append(parts, "Working directory: dirty")
	}

	return strings.Join(parts, "\n")
}

// IsRelease returns true if this is a release build (not dev)
func IsRelease() bool {
	version := GetVersion()
	return version != "dev" && !strings.HasPrefix(version, "dev-")
}

// IsDirty returns true if the working directory was dirty when built
func IsDirty() bool {
	if info, ok := debug.ReadBuildInfo(); ok {
		return setting(info, "vcs.modified") == "true"
	}
	return false
}

func setting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// parseBuildTime parses the ldflags build time, returning the zero time
// when it is unset or malformed.
func parseBuildTime(value string) time.Time {
	if value == "" || value == "unknown" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
