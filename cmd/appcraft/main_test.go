package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/appcraft/pkg/app"
	"github.com/kardianos/service"
)

func TestPrintVersion_ListsModules(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)

	out := buf.String()
	for _, want := range []string{"appcraft dev", "store.sqlite", "automation.engine", "gateway.http"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintNextRuns(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 10, 0, 0, time.UTC)
	var buf bytes.Buffer
	if err := printNextRuns(&buf, "*/30 9 * * *", 3, now); err != nil {
		t.Fatalf("printNextRuns: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"*/30 9 * * *",
		"  Fri 2024-03-01 09:00 UTC",
		"  Fri 2024-03-01 09:30 UTC",
		"  Sat 2024-03-02 09:00 UTC",
	}
	if !slices.Equal(lines, want) {
		t.Errorf("got %q, want %q", lines, want)
	}
}

func TestPrintNextRuns_Rejects(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		expr  string
		count int
	}{
		{"too frequent", "* * * * *", 5},
		{"malformed", "61 * * * *", 5},
		{"count zero", "0 * * * *", 0},
		{"count too high", "0 * * * *", 51},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := printNextRuns(&bytes.Buffer{}, tt.expr, tt.count, now); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestServiceConfig_AbsolutePaths(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := serviceConfig(app.RunParams{ConfigPath: "appcraft.yaml", DataDir: "data"})
	if err != nil {
		t.Fatalf("serviceConfig: %v", err)
	}
	cwd, _ := os.Getwd()
	want := []string{
		"service", "run",
		"--config", filepath.Join(cwd, "appcraft.yaml"),
		"--data-dir", filepath.Join(cwd, "data"),
	}
	if !slices.Equal(cfg.Arguments, want) {
		t.Errorf("Arguments = %v, want %v", cfg.Arguments, want)
	}
	if cfg.Name != "appcraft" {
		t.Errorf("Name = %q", cfg.Name)
	}
}

func TestStatusText(t *testing.T) {
	tests := map[service.Status]string{
		service.StatusRunning: "running",
		service.StatusStopped: "stopped",
		service.StatusUnknown: "unknown",
	}
	for st, want := range tests {
		if got := statusText(st); got != want {
			t.Errorf("statusText(%v) = %q, want %q", st, got, want)
		}
	}
}

func TestCheckConfig_ProvisionsModules(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	path := filepath.Join(dir, "appcraft.yaml")
	if err := app.WriteStarterConfig(path, app.StarterOptions{TokenEnv: "APPCRAFT_TEST_TOKEN"}, false); err != nil {
		t.Fatalf("WriteStarterConfig: %v", err)
	}
	t.Setenv("APPCRAFT_TEST_TOKEN", "t0ken")

	var buf bytes.Buffer
	if err := checkConfig(&buf, path); err != nil {
		t.Fatalf("checkConfig: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "Configuration OK (3 modules)") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestCheckConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appcraft.yaml")
	if err := os.WriteFile(path, []byte("version: \"1\"\nmodules:\n  unknown.thing: {}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := checkConfig(&bytes.Buffer{}, path); err == nil {
		t.Error("expected error for unknown module")
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"version"}, {"start"}, {"config", "check"}, {"config", "init"},
		{"cron", "next"}, {"service", "install"}, {"service", "run"}, {"service", "status"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}
