package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// Set through -ldflags at release time.
var (
	Version = "0.1.0"
	Commit  = ""
	Date    = ""
)

// Resolve returns Version, suffixed with the VCS revision the binary was
// built from when that is not a release build.
func Resolve() string {
	return resolveVersion(Version, Commit, readBuildSettings())
}

// Detail is the long form printed by the version command.
func Detail() string {
	settings := readBuildSettings()
	commit := Commit
	if commit == "" {
		commit = settings["vcs.revision"]
	}
	date := Date
	if date == "" {
		date = settings["vcs.time"]
	}

	var parts []string
	if commit != "" {
		parts = append(parts, "commit "+shortRevision(commit))
	}
	if date != "" {
		parts = append(parts, "built "+date)
	}

	line := "voxkey v" + Resolve()
	if len(parts) > 0 {
		line += fmt.Sprintf(" (%s)", strings.Join(parts, ", "))
	}
	return line
}

func resolveVersion(base, commit string, settings map[string]string) string {
	if base == "" {
		base = "0.0.0"
	}

	// Release builds carry an explicit commit.
	if commit != "" {
		return base
	}

	revision := settings["vcs.revision"]
	if revision == "" {
		return base
	}

	suffix := shortRevision(revision)
	if settings["vcs.modified"] == "true" {
		suffix += "-dirty"
	}
	return base + "-" + suffix
}

func shortRevision(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

func readBuildSettings() map[string]string {
	settings := map[string]string{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return settings
	}
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	return settings
}
