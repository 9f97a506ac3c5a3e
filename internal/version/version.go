// Package version holds build metadata for the wasmgen CLI.
// The string variables can be overridden at build time via -ldflags -X.
package version

import (
	"strings"

	"github.com/fatih/color"
)

var (
	versionMajorColor = color.New(color.FgYellow, color.Bold)
	versionMinorColor = color.New(color.FgGreen, color.Bold)
	versionPatchColor = color.New(color.FgBlue, color.Bold)

	// Semver is the plain semantic version.
	Semver = "0.1.0-dev"

	// Version is Semver with its numeric parts colorized for terminals.
	Version = Colorize(Semver)

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// GitMessage is an optional git commit message.
	GitMessage = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

// Colorize paints the major, minor and patch numbers of v. Suffixes after
// '-' or '+' and malformed versions are returned as they are.
func Colorize(v string) string {
	core, rest := v, ""
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		core, rest = v[:i], v[i:]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return v
	}
	return versionMajorColor.Sprint(parts[0]) + "." +
		versionMinorColor.Sprint(parts[1]) + "." +
		versionPatchColor.Sprint(parts[2]) + rest
}

// Plain returns Semver, falling back to Version when Semver was cleared.
func Plain() string {
	if Semver != "" {
		return Semver
	}
	return Version
}
