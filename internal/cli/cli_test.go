package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	appHandle = nil
	t.Cleanup(func() { appHandle = nil })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v (%s)", args, err, out.String())
	}
	return out.String()
}

func TestVersion(t *testing.T) {
	out := execute(t, "version")
	if !strings.Contains(out, "version: dev") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTestAlertQueues(t *testing.T) {
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "cli.db"))

	out := execute(t, "test-alert", "--type", "Whale", "--message", "hello")
	if !strings.Contains(out, "queued alert #1 (whale)") {
		t.Fatalf("unexpected output %q", out)
	}
}
