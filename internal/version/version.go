package version

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the service current released version.
// This value can be overridden at build time using ldflags:
//
//	go build -ldflags "-X github.com/hrygo/shepherd/internal/version.Version=0.3.0"
//
// Semantic versioning: https://semver.org/
var Version = "0.0.0-dev"

// GitCommit is the git commit hash at build time.
// Set via ldflags: -X github.com/hrygo/shepherd/internal/version.GitCommit=$(git rev-parse HEAD)
var GitCommit = "unknown"

// BuildTime is the build timestamp in RFC3339 format.
// Set via ldflags: -X github.com/hrygo/shepherd/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)
var BuildTime = "unknown"

// Info is the build information reported by the health endpoint and the CLI.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    shortCommit(),
		BuildTime: known(BuildTime),
		GoVersion: runtime.Version(),
	}
}

// Canonical returns Version as a canonical semver string ("v0.3.0"),
// or "" when Version is not valid semver.
func Canonical() string {
	return semver.Canonical(withPrefix(Version))
}

// AtLeast reports whether the running version is greater than or equal to
// minimum. Both accept an optional "v" prefix.
func AtLeast(minimum string) (bool, error) {
	current, target := withPrefix(Version), withPrefix(minimum)
	if !semver.IsValid(target) {
		return false, fmt.Errorf("invalid version %q", minimum)
	}
	if !semver.IsValid(current) {
		return false, fmt.Errorf("running version %q is not semver", Version)
	}
	return semver.Compare(current, target) >= 0, nil
}

// String returns the version string with optional commit hash.
func String() string {
	if c := shortCommit(); c != "" {
		return fmt.Sprintf("%s-%s", Version, c)
	}
	return Version
}

// StringFull returns the complete version information including build metadata.
func StringFull() string {
	info := Get()
	parts := []string{fmt.Sprintf("Version=%s", info.Version)}
	if info.Commit != "" {
		parts = append(parts, fmt.Sprintf("Commit=%s", info.Commit))
	}
	if info.BuildTime != "" {
		parts = append(parts, fmt.Sprintf("BuildTime=%s", info.BuildTime))
	}
	parts = append(parts, fmt.Sprintf("Go=%s", info.GoVersion))
	return strings.Join(parts, " ")
}

func withPrefix(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

func shortCommit() string {
	c := known(GitCommit)
	if len(c) > 8 {
		c = c[:8]
	}
	return c
}

func known(s string) string {
	if s == "unknown" {
		return ""
	}
	return s
}
