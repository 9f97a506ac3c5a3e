package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestVersionDefaults(t *testing.T) {
	if Semver == "" {
		t.Fatal("Semver should have a default value")
	}
	if Version == "" {
		t.Fatal("Version should have a default value")
	}
	if Plain() != Semver {
		t.Fatalf("Plain() = %q, want %q", Plain(), Semver)
	}
}

func TestColorizeWithoutColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	tests := []string{
		"0.1.0",
		"1.2.3-rc.1+build.123",
		"2.0.0+meta",
		"dev",
		"1.2",
		"",
	}
	for _, v := range tests {
		if got := Colorize(v); got != v {
			t.Errorf("Colorize(%q) = %q", v, got)
		}
	}
}

func TestColorizeKeepsSuffix(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	got := Colorize("1.2.3-beta")
	if got == "1.2.3-beta" {
		t.Fatal("expected escape sequences in colored output")
	}
	if len(got) < len("-beta") || got[len(got)-len("-beta"):] != "-beta" {
		t.Fatalf("suffix lost: %q", got)
	}
}

func TestPlainFallsBackToVersion(t *testing.T) {
	origSemver, origVersion := Semver, Version
	defer func() { Semver, Version = origSemver, origVersion }()

	Semver = ""
	Version = "9.9.9"
	if got := Plain(); got != "9.9.9" {
		t.Fatalf("Plain() = %q, want 9.9.9", got)
	}
}
