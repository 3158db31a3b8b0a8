package strategy

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"garrison/internal/domain"
	"garrison/internal/shell"
)

func TestBuildCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("binary name differs on windows")
	}
	dir := t.TempDir()
	fs, _ := shell.NewLocal().FS(context.Background())
	r := GetRunner(domain.Connection{Type: domain.ConnectionLocal}, Options{MaxFPS: 60, LogStatsMs: 60000})

	if _, err := r.BuildCommand(fs, dir); err == nil {
		t.Fatal("Expected error for missing binary")
	}

	os.WriteFile(filepath.Join(dir, defaultBinary), []byte("x"), 0755)
	spec, err := r.BuildCommand(fs, dir)
	if err != nil {
		t.Fatalf("BuildCommand failed: %v", err)
	}

	if spec.Binary != filepath.Join(dir, defaultBinary) {
		t.Errorf("Unexpected binary %s", spec.Binary)
	}
	line := strings.Join(spec.Args, " ")
	for _, want := range []string{
		"-config " + filepath.Join(dir, "garrison", "server.json"),
		"-profile " + filepath.Join(dir, "profile"),
		"-maxFPS 60",
		"-logStats 60000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected args to contain %q, got %q", want, line)
		}
	}
	if spec.Dir != dir {
		t.Errorf("Expected working dir %s, got %s", dir, spec.Dir)
	}
}

func TestRenderConfigUsesEnabledMods(t *testing.T) {
	r := GetRunner(domain.Connection{}, Options{})
	data, err := r.RenderConfig(domain.DefaultServerConfig(), []domain.Mod{
		{ID: "1", Name: "On", Source: "AAAA", Enabled: true},
		{ID: "2", Name: "Off", Source: "BBBB"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "AAAA") || strings.Contains(string(data), "BBBB") {
		t.Errorf("Expected only enabled mods in config, got %s", data)
	}
}
