package version

import (
	"strings"
	"testing"
)

// setVars overrides the build variables for the duration of a test.
func setVars(t *testing.T, v, commit, built string) {
	t.Helper()
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})
	Version, Commit, BuildTime = v, commit, built
}

func TestString(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		setVars(t, "dev", "unknown", "unknown")

		if got, want := String(), "dev (unknown) built unknown"; got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		setVars(t, "1.2.3", "abc1234", "2024-01-15T10:00:00Z")

		expected := "1.2.3 (abc1234) built 2024-01-15T10:00:00Z"
		if result := String(); result != expected {
			t.Errorf("String() = %q, want %q", result, expected)
		}
	})
}

func TestUserAgent(t *testing.T) {
	setVars(t, "0.4.1", "abc1234", "unknown")

	if got := UserAgent(); got != "wsclient/0.4.1" {
		t.Errorf("UserAgent() = %q, want %q", got, "wsclient/0.4.1")
	}
	if strings.ContainsAny(UserAgent(), " \t\n") {
		t.Errorf("UserAgent() = %q should not contain whitespace", UserAgent())
	}
}

func TestDefaultValues(t *testing.T) {
	// ldflags may override these in release builds
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if Commit == "" {
		t.Error("Commit should not be empty")
	}
	if BuildTime == "" {
		t.Error("BuildTime should not be empty")
	}
}
