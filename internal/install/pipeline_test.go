package install

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"garrison/internal/domain"
	"garrison/internal/logger"
	"garrison/internal/shell"
)

const testBinary = "ArmaReforgerServer"

type step struct {
	phase    domain.InstallPhase
	progress float64
}

type fakeFetcher struct {
	steps       []step
	writeBinary bool
	err         error
	outputLines []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, req Request, sink Sink) error {
	for _, l := range f.outputLines {
		sink.output(l)
	}
	for _, s := range f.steps {
		sink.progress(s.phase, s.progress, "")
	}
	if f.err != nil {
		return f.err
	}
	if f.writeBinary {
		return os.WriteFile(filepath.Join(req.Connection.InstallPath, testBinary), []byte("#!/bin/sh\n"), 0644)
	}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.InstallProgress
	lines  []string
}

func (r *recorder) progress(p domain.InstallProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recorder) output(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recorder) last() domain.InstallProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func runPipeline(t *testing.T, f Fetcher) (*recorder, string, error) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "srv")
	req := Request{
		Connection: domain.Connection{ID: "c1", Type: domain.ConnectionLocal, InstallPath: dir},
		Target:     shell.NewLocal(),
	}
	rec := &recorder{}
	err := NewPipeline(f, testBinary, logger.Nop()).Run(context.Background(), req, rec.progress, rec.output)
	return rec, dir, err
}

// containsInOrder reports whether want appears in got as an ordered subsequence.
func containsInOrder(got []domain.InstallProgress, want []step) bool {
	i := 0
	for _, e := range got {
		if i < len(want) && e.Status == want[i].phase && e.Progress == want[i].progress {
			i++
		}
	}
	return i == len(want)
}

func TestPipelineReportsPhasesInOrder(t *testing.T) {
	f := &fakeFetcher{
		steps:       []step{{domain.PhaseDownloading, 10}, {domain.PhaseDownloading, 80}},
		writeBinary: true,
		outputLines: []string{"Steam Console Client (c) Valve Corporation"},
	}
	rec, dir, err := runPipeline(t, f)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []step{
		{domain.PhaseDownloading, 10},
		{domain.PhaseDownloading, 80},
		{domain.PhaseExtracting, 90},
		{domain.PhaseValidating, 98},
		{domain.PhaseComplete, 100},
	}
	if !containsInOrder(rec.events, want) {
		t.Errorf("Expected phases %v in order, got %+v", want, rec.events)
	}
	if last := rec.last(); last.Status != domain.PhaseComplete || last.Progress != 100 {
		t.Errorf("Expected complete(100) last, got %+v", last)
	}
	if len(rec.lines) != 1 {
		t.Errorf("Expected fetcher output to be forwarded, got %v", rec.lines)
	}

	fi, err := os.Stat(filepath.Join(dir, testBinary))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm()&0111 == 0 {
		t.Error("Expected binary to be marked executable")
	}

	data, err := os.ReadFile(filepath.Join(dir, "garrison", "server.json"))
	if err != nil {
		t.Fatalf("Expected default config file: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Errorf("Expected valid JSON config, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "profile", "logs")); err != nil {
		t.Errorf("Expected profile log dir: %v", err)
	}
}

func TestPipelineProgressIsMonotonic(t *testing.T) {
	f := &fakeFetcher{
		steps: []step{
			{domain.PhaseDownloading, 50},
			{domain.PhaseDownloading, 20},
			{domain.PhaseDownloading, 99},
			{domain.PhaseExtracting, 10},
			{domain.PhaseDownloading, 70},
		},
		writeBinary: true,
	}
	rec, _, err := runPipeline(t, f)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	prev := -1.0
	for _, e := range rec.events {
		if e.Progress < prev {
			t.Fatalf("Progress went backwards: %v after %v", e.Progress, prev)
		}
		if e.Status == domain.PhaseDownloading && e.Progress > maxDownloadProgress {
			t.Errorf("Expected download progress capped at %d, got %v", maxDownloadProgress, e.Progress)
		}
		prev = e.Progress
	}
}

func TestPipelineFailureKeepsLastProgress(t *testing.T) {
	f := &fakeFetcher{
		steps: []step{{domain.PhaseDownloading, 42}},
		err:   errors.New("connection reset"),
	}
	rec, _, err := runPipeline(t, f)
	if err == nil {
		t.Fatal("Expected error")
	}

	last := rec.last()
	if last.Status != domain.PhaseError {
		t.Errorf("Expected error phase, got %s", last.Status)
	}
	if last.Progress != 42 {
		t.Errorf("Expected progress to stay at 42, got %v", last.Progress)
	}
	if last.Message == "" {
		t.Error("Expected failure message")
	}
}

func TestPipelineFailsValidationWithoutBinary(t *testing.T) {
	rec, _, err := runPipeline(t, &fakeFetcher{})
	if err == nil {
		t.Fatal("Expected validation to fail")
	}
	last := rec.last()
	if last.Status != domain.PhaseError || last.Progress != 98 {
		t.Errorf("Expected error at 98, got %+v", last)
	}
}

func TestIsInstalled(t *testing.T) {
	dir := t.TempDir()
	target := shell.NewLocal()
	ctx := context.Background()

	if IsInstalled(ctx, target, dir, testBinary) {
		t.Error("Expected empty dir to be not installed")
	}
	os.WriteFile(filepath.Join(dir, testBinary), []byte("x"), 0644)
	if IsInstalled(ctx, target, dir, testBinary) {
		t.Error("Expected non-executable binary to be not installed")
	}
	os.Chmod(filepath.Join(dir, testBinary), 0755)
	if !IsInstalled(ctx, target, dir, testBinary) {
		t.Error("Expected executable binary to be installed")
	}
}
