package version

import (
	"strings"
	"testing"
)

func TestInfoWithoutCommit(t *testing.T) {
	if got := Info(); got != Version {
		t.Errorf("Info() = %q, want %q when no commit is set", got, Version)
	}
}

func TestInfoShortensCommit(t *testing.T) {
	orig := Commit
	defer func() { Commit = orig }()

	Commit = "abcdef1234567890"
	want := Version + " (abcdef1)"
	if got := Info(); got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
}

func TestFullNamesTheBinary(t *testing.T) {
	full := Full()
	for _, want := range []string{"dorametrics version " + Version, "Commit:", "Built:"} {
		if !strings.Contains(full, want) {
			t.Errorf("Full() missing %q:\n%s", want, full)
		}
	}
}
