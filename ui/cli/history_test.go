// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/toeirei/iscsictl/internal/model"
)

func TestHistory_Empty(t *testing.T) {
	newLab(t)
	out := mustRun(t, "history")
	if !strings.Contains(out, "No deployments recorded yet") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestHistory_ExportImport(t *testing.T) {
	l := newLab(t)
	l.addTarget("admin")
	mustRun(t, "target", "--host", "admin")

	file := filepath.Join(t.TempDir(), "history.json.zst")
	out := mustRun(t, "history", "export", file)
	if !strings.Contains(out, "Exported 1 record(s) to "+file) {
		t.Fatalf("unexpected export output: %q", out)
	}
	if fi, err := os.Stat(file); err != nil || fi.Size() == 0 {
		t.Fatalf("export file missing or empty: %v", err)
	}

	t.Setenv("ISCSICTL_DATABASE_DSN", filepath.Join(t.TempDir(), "fresh.db"))
	out = mustRun(t, "history", "import", file)
	if !strings.Contains(out, "Imported 1 record(s), skipped 0") {
		t.Fatalf("unexpected import output: %q", out)
	}
	out = mustRun(t, "history", "import", file)
	if !strings.Contains(out, "Imported 0 record(s), skipped 1") {
		t.Fatalf("re-import should skip: %q", out)
	}
	out = mustRun(t, "history")
	if !strings.Contains(out, testIQN) {
		t.Fatalf("imported record not listed:\n%s", out)
	}
}

func TestHistory_ImportRejectsGarbage(t *testing.T) {
	newLab(t)
	file := filepath.Join(t.TempDir(), "bad.zst")
	if err := os.WriteFile(file, []byte("not zstd"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "history", "import", file); err == nil {
		t.Fatal("expected an error for a corrupt export")
	}
}

func TestRenderHistory(t *testing.T) {
	start := time.Now().Add(-2 * time.Hour)
	end := start.Add(1500 * time.Millisecond)
	out := renderHistory([]model.Deployment{
		{ID: "0123456789abcdef", Role: model.RoleTarget, Host: "admin", IQN: testIQN, Status: model.StatusSucceeded, StartedAt: start, FinishedAt: &end},
		{ID: "short", Role: model.RoleInitiator, Host: "node1", Status: model.StatusRunning, StartedAt: start},
	})
	for _, want := range []string{"ROLE", "01234567", "admin", testIQN, "1.5s", "2 hours ago", "node1", "running"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table misses %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "0123456789abcdef") {
		t.Fatalf("ids should be shortened:\n%s", out)
	}
}
