package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"garrison/internal/domain"
)

func TestQuote(t *testing.T) {
	cases := map[string]string{
		"":                   "''",
		"/opt/server":        "/opt/server",
		"-config=a.json":     "-config=a.json",
		"with space":         "'with space'",
		"it's":               `'it'\''s'`,
		"$(rm -rf /)":        "'$(rm -rf /)'",
		"{ECC}Missions/a.cf": "'{ECC}Missions/a.cf'",
	}
	for in, want := range cases {
		if got := Quote(in); got != want {
			t.Errorf("Quote(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCommandLine(t *testing.T) {
	spec := LaunchSpec{Binary: "/srv/a b/server", Args: []string{"-config", "x.json"}, Env: []string{"A=1"}}
	got := withDir("/srv/a b", commandLine(spec))
	want := "cd '/srv/a b' && env A=1 '/srv/a b/server' -config x.json"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestParsePS(t *testing.T) {
	usage, err := parsePS("  12.5 204800   3600\n")
	if err != nil {
		t.Fatalf("parsePS failed: %v", err)
	}
	if usage.CPU != 12.5 {
		t.Errorf("Expected cpu 12.5, got %v", usage.CPU)
	}
	if usage.Memory != 204800*1024 {
		t.Errorf("Expected memory in bytes, got %d", usage.Memory)
	}
	if usage.Uptime != time.Hour {
		t.Errorf("Expected 1h uptime, got %v", usage.Uptime)
	}

	if _, err := parsePS(""); err == nil {
		t.Error("Expected error for empty ps output")
	}
}

func TestScanLinesSplitsCarriageReturns(t *testing.T) {
	var lines []string
	ScanLines(strings.NewReader("a\r\nprogress 1\rprogress 2\n\nlast"), func(l string) {
		lines = append(lines, l)
	})
	want := []string{"a", "progress 1", "progress 2", "last"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Errorf("Expected %v, got %v", want, lines)
	}
}

func TestExitCode(t *testing.T) {
	if code, ok := ExitCode(nil); !ok || code != 0 {
		t.Errorf("Expected 0 for nil, got %d %v", code, ok)
	}
	if _, ok := ExitCode(errors.New("boom")); ok {
		t.Error("Expected unknown exit code for plain error")
	}
}

func TestLocalStreamAndExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	local := NewLocal()
	var lines []string
	err := Stream(context.Background(), local, LaunchSpec{Binary: "/bin/sh", Args: []string{"-c", "echo one; echo two 1>&2; exit 3"}}, func(l string) {
		lines = append(lines, l)
	})
	if code, ok := ExitCode(err); !ok || code != 3 {
		t.Errorf("Expected exit code 3, got %v", err)
	}
	if strings.Join(lines, ",") != "one,two" {
		t.Errorf("Expected merged output in order, got %v", lines)
	}
}

func TestLocalTerminate(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	local := NewLocal()
	proc, err := local.Start(context.Background(), LaunchSpec{Binary: "/bin/sh", Args: []string{"-c", "echo ready; sleep 30"}})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	go ScanLines(proc.Output(), func(string) {})

	if proc.PID() <= 0 {
		t.Errorf("Expected a pid, got %d", proc.PID())
	}
	if err := proc.Terminate(); err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not exit after SIGTERM")
	}
	if proc.ExitErr() == nil {
		t.Error("Expected a non-nil exit error after SIGTERM")
	}
}

func TestLocalRunTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := NewLocal().Run(ctx, LaunchSpec{Binary: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	if !domain.IsKind(err, domain.KindTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestOSFileSystem(t *testing.T) {
	fs, _ := NewLocal().FS(context.Background())
	dir := t.TempDir()
	p := fs.Join(dir, "sub", "file.txt")
	if err := fs.MkdirAll(filepath.Dir(p)); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile(p, []byte("hello"), 0640); err != nil {
		t.Fatal(err)
	}
	infos, err := fs.ReadDir(filepath.Dir(p))
	if err != nil || len(infos) != 1 || infos[0].Name() != "file.txt" {
		t.Fatalf("Unexpected ReadDir result %v %v", infos, err)
	}
	f, err := fs.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	info, _ := f.Stat()
	if info.Size() != 5 {
		t.Errorf("Expected size 5, got %d", info.Size())
	}
	if _, err := fs.Open(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestClientConfigRequiresCredentials(t *testing.T) {
	conn := domain.Connection{Name: "r", Type: domain.ConnectionRemote, Host: "example", Username: "u"}
	if _, err := ClientConfig(conn, time.Second); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	conn.Password = "secret"
	cfg, err := ClientConfig(conn, time.Second)
	if err != nil {
		t.Fatalf("ClientConfig failed: %v", err)
	}
	if cfg.User != "u" || len(cfg.Auth) != 1 {
		t.Errorf("Unexpected config %+v", cfg)
	}
	conn.PrivateKey = "not a key"
	if _, err := ClientConfig(conn, time.Second); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("Expected validation error for bad key, got %v", err)
	}
}
