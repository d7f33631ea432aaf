package session

import (
	"testing"

	"github.com/matheus3301/dmsync/internal/config"
)

func TestResolve(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if got := Resolve("", nil); got != DefaultSessionName {
		t.Errorf("Resolve with no config = %q, want %q", got, DefaultSessionName)
	}
	if got := Resolve("", &config.Config{DefaultSession: "work"}); got != "work" {
		t.Errorf("Resolve from config = %q, want work", got)
	}
	if got := Resolve("flag", &config.Config{DefaultSession: "work"}); got != "flag" {
		t.Errorf("Resolve with flag = %q, want flag", got)
	}

	if err := config.Save(ConfigPath(), &config.Config{DefaultSession: "saved"}); err != nil {
		t.Fatal(err)
	}
	if got := Resolve("", nil); got != "saved" {
		t.Errorf("Resolve from file = %q, want saved", got)
	}
}
