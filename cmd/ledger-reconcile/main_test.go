package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"discord-invite-tracker/internal/models"
)

func TestPrintDrifts(t *testing.T) {
	var buf bytes.Buffer
	if err := printDrifts(&buf, nil, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "All invite counters match") {
		t.Errorf("unexpected clean report %q", buf.String())
	}

	buf.Reset()
	drifts := []*models.Drift{{InviteID: 7, Code: "abc", Uses: 4, ActiveUses: 2}}
	if err := printDrifts(&buf, drifts, true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"CODE", "abc", "1 invite counter(s) fixed."} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestExitCode(t *testing.T) {
	drifts := []*models.Drift{{InviteID: 1, Code: "abc", Uses: 2, ActiveUses: 1}}
	if got := exitCode(nil, false); got != 0 {
		t.Errorf("clean ledger: expected 0, got %d", got)
	}
	if got := exitCode(drifts, false); got != 1 {
		t.Errorf("unfixed drift: expected 1, got %d", got)
	}
	if got := exitCode(drifts, true); got != 0 {
		t.Errorf("fixed drift: expected 0, got %d", got)
	}
}

func TestRunWithoutToken(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfg := `{"database": {"sqlite_path": "` + filepath.ToSlash(filepath.Join(dir, "ledger.db")) + `"}}`
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DISCORD_TOKEN", "")

	args, fs := os.Args, flag.CommandLine
	t.Cleanup(func() { os.Args, flag.CommandLine = args, fs })
	flag.CommandLine = flag.NewFlagSet("ledger-reconcile", flag.ContinueOnError)
	os.Args = []string{"ledger-reconcile", "-config", cfgPath, "-json"}

	if code := run(); code != 0 {
		t.Errorf("expected a clean run on an empty ledger, got exit code %d", code)
	}
}
