package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"garrison/internal/domain"
	"garrison/internal/events"
	"garrison/internal/install"
	"garrison/internal/logger"
	"garrison/internal/mods"
	"garrison/internal/runner/strategy"
	"garrison/internal/serverconfig"
	"garrison/internal/shell"
	"garrison/internal/storage"
)

const readyMarker = "Game successfully created"

type fakeProcess struct {
	pid        int
	r          *io.PipeReader
	w          *io.PipeWriter
	done       chan struct{}
	once       sync.Once
	exitErr    error
	ignoreTerm bool
	ignoreKill bool
	terms      int32
	kills      int32
}

func newFakeProcess(pid int) *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: pid, r: r, w: w, done: make(chan struct{})}
}

func (p *fakeProcess) emit(line string) {
	fmt.Fprintln(p.w, line)
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		p.w.Close()
		close(p.done)
	})
}

func (p *fakeProcess) PID() int { return p.pid }
func (p *fakeProcess) Output() io.Reader { return p.r }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) ExitErr() error { return p.exitErr }

func (p *fakeProcess) Terminate() error {
	atomic.AddInt32(&p.terms, 1)
	if !p.ignoreTerm {
		p.exit(nil)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	atomic.AddInt32(&p.kills, 1)
	if !p.ignoreKill {
		p.exit(errors.New("signal: killed"))
	}
	return nil
}

type fakeTarget struct {
	mu      sync.Mutex
	procs   []*fakeProcess
	script  func(p *fakeProcess)
	prepare func(p *fakeProcess)
}

func (t *fakeTarget) Run(ctx context.Context, spec shell.LaunchSpec) ([]byte, error) {
	return nil, nil
}

func (t *fakeTarget) Start(ctx context.Context, spec shell.LaunchSpec) (shell.Process, error) {
	t.mu.Lock()
	p := newFakeProcess(1000 + len(t.procs))
	t.procs = append(t.procs, p)
	script, prepare := t.script, t.prepare
	t.mu.Unlock()

	if prepare != nil {
		prepare(p)
	}
	if script != nil {
		go script(p)
	}
	return p, nil
}

func (t *fakeTarget) FS(ctx context.Context) (shell.FileSystem, error) {
	return shell.NewLocal().FS(ctx)
}

func (t *fakeTarget) Usage(ctx context.Context, pid int) (domain.ResourceUsage, error) {
	return domain.ResourceUsage{CPU: 12.5, Memory: 2048}, nil
}

func (t *fakeTarget) Close() error { return nil }

func (t *fakeTarget) started() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

func (t *fakeTarget) last() *fakeProcess {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.procs[len(t.procs)-1]
}

// readyScript announces readiness and keeps running until signalled.
func readyScript(p *fakeProcess) {
	p.emit("ENGINE       : Game version: 1.2.0.76")
	p.emit("Loading world: worlds/Everon/Everon.ent")
	p.emit(readyMarker)
}

type blockingFetcher struct {
	release chan struct{}
	steps   []float64
}

func (f *blockingFetcher) Fetch(ctx context.Context, req install.Request, sink install.Sink) error {
	for _, p := range f.steps {
		sink.Progress(domain.PhaseDownloading, p, "")
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	bin := strategy.GetRunner(req.Connection, strategy.Options{}).BinaryName()
	return os.WriteFile(filepath.Join(req.Connection.InstallPath, bin), []byte("#!/bin/sh\n"), 0755)
}

type harness struct {
	sup     *Supervisor
	target  *fakeTarget
	store   *storage.GormStore
	bus     *events.Bus
	dir     string
	fetcher *blockingFetcher

	mu     sync.Mutex
	events []domain.Event
}

func newHarness(t *testing.T, installed bool, opts Options) *harness {
	t.Helper()
	log := logger.Nop()
	store, err := storage.NewGormStore(filepath.Join(t.TempDir(), "test.db"), log)
	if err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "local-1")
	os.MkdirAll(dir, 0755)
	conn := &domain.Connection{ID: "local-1", Name: "local-1", Type: domain.ConnectionLocal, InstallPath: dir}
	if err := store.CreateConnection(context.Background(), conn); err != nil {
		t.Fatal(err)
	}
	if installed {
		bin := strategy.GetRunner(*conn, strategy.Options{}).BinaryName()
		os.WriteFile(filepath.Join(dir, bin), []byte("#!/bin/sh\n"), 0755)
	}

	h := &harness{
		target:  &fakeTarget{script: readyScript},
		store:   store,
		bus:     events.NewBus(log),
		dir:     dir,
		fetcher: &blockingFetcher{steps: []float64{10, 80}},
	}
	if opts.ReadyMarker == "" {
		opts.ReadyMarker = readyMarker
	}
	if opts.StartTimeout == 0 {
		opts.StartTimeout = 5 * time.Second
	}
	if opts.StopGrace == 0 {
		opts.StopGrace = 200 * time.Millisecond
	}
	if opts.KillTimeout == 0 {
		opts.KillTimeout = 200 * time.Millisecond
	}

	pipeline := install.NewPipeline(h.fetcher, strategy.GetRunner(*conn, strategy.Options{}).BinaryName(), log)

	h.sup = NewSupervisor(
		store,
		serverconfig.NewManager(store, log),
		mods.NewManager(store, log),
		pipeline,
		h.bus,
		func(domain.Connection) shell.Target { return h.target },
		opts,
		log,
	)
	h.bus.Subscribe("local-1", func(ev domain.Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})

	t.Cleanup(func() {
		h.sup.Close()
		h.bus.Close()
		store.Close()
	})
	return h
}

func (h *harness) states() []domain.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.State
	for _, ev := range h.events {
		if ev.Kind == domain.EventStatus && ev.Previous != "" {
			out = append(out, ev.State)
		}
	}
	return out
}

func (h *harness) installEvents() []domain.InstallProgress {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.InstallProgress
	for _, ev := range h.events {
		if ev.Kind == domain.EventInstall {
			out = append(out, *ev.Install)
		}
	}
	return out
}

func (h *harness) state(t *testing.T) domain.State {
	t.Helper()
	st, err := h.sup.State(context.Background(), "local-1")
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func (h *harness) waitState(t *testing.T, want domain.State) {
	t.Helper()
	waitFor(t, string(want), func() bool { return h.state(t) == want })
}

func containsSequence(got, want []domain.State) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestInstallScenario(t *testing.T) {
	h := newHarness(t, false, Options{})
	ctx := context.Background()

	if st := h.state(t); st != domain.StateNotInstalled {
		t.Fatalf("Expected NOT_INSTALLED, got %s", st)
	}
	if _, err := h.sup.Install(ctx, "local-1"); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	h.waitState(t, domain.StateStopped)

	waitFor(t, "complete event", func() bool {
		evs := h.installEvents()
		return len(evs) > 0 && evs[len(evs)-1].Status == domain.PhaseComplete
	})

	want := []struct {
		phase domain.InstallPhase
		pct   float64
	}{
		{domain.PhaseDownloading, 10},
		{domain.PhaseDownloading, 80},
		{domain.PhaseExtracting, 90},
		{domain.PhaseValidating, 98},
		{domain.PhaseComplete, 100},
	}
	i := 0
	for _, e := range h.installEvents() {
		if i < len(want) && e.Status == want[i].phase && e.Progress == want[i].pct {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("Expected install phases in order, got %+v", h.installEvents())
	}

	st, err := h.sup.Status(ctx, "local-1")
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsInstalled {
		t.Error("Expected isInstalled after install")
	}
	if st.IsOnline {
		t.Error("Expected server to be offline after install")
	}
}

func TestInstallRejectsConcurrentRun(t *testing.T) {
	h := newHarness(t, false, Options{})
	h.fetcher.release = make(chan struct{})
	ctx := context.Background()

	if _, err := h.sup.Install(ctx, "local-1"); err != nil {
		t.Fatalf("First install failed: %v", err)
	}
	_, err := h.sup.Install(ctx, "local-1")
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("Expected conflict for second install, got %v", err)
	}
	if err := h.sup.Start(ctx, "local-1"); !domain.IsKind(err, domain.KindConflict) {
		t.Errorf("Expected conflict for start during install, got %v", err)
	}

	close(h.fetcher.release)
	h.waitState(t, domain.StateStopped)

	got := h.states()
	if !containsSequence(got, []domain.State{domain.StateInstalling, domain.StateStopped}) {
		t.Errorf("Expected INSTALLING then STOPPED, got %v", got)
	}
	for _, s := range got {
		if s == domain.StateError {
			t.Errorf("Expected first install to finish cleanly, got %v", got)
		}
	}
}

func TestInstallProgressIsRetainedBriefly(t *testing.T) {
	h := newHarness(t, false, Options{InstallDisplay: 100 * time.Millisecond})
	ctx := context.Background()

	h.sup.Install(ctx, "local-1")
	h.waitState(t, domain.StateStopped)

	p, _ := h.sup.InstallProgress(ctx, "local-1")
	if p == nil || p.Status != domain.PhaseComplete {
		t.Fatalf("Expected complete progress to be visible, got %+v", p)
	}
	waitFor(t, "progress to clear", func() bool {
		p, _ := h.sup.InstallProgress(ctx, "local-1")
		return p == nil
	})
}

func TestStartScenario(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()

	if err := h.sup.Start(ctx, "local-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "STARTING then RUNNING", func() bool {
		return containsSequence(h.states(), []domain.State{domain.StateStarting, domain.StateRunning})
	})

	st, err := h.sup.Status(ctx, "local-1")
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsOnline || st.State != domain.StateRunning {
		t.Errorf("Expected online RUNNING, got %+v", st)
	}
	if st.PID == 0 || st.CPU != 12.5 || st.Memory != 2048 {
		t.Errorf("Expected process usage in status, got %+v", st)
	}
	if st.MaxPlayers != 64 || st.Mission != "23_Campaign" {
		t.Errorf("Expected config derived fields, got %+v", st)
	}

	if _, err := os.Stat(filepath.Join(h.dir, "garrison", "server.json")); err != nil {
		t.Errorf("Expected rendered config on start: %v", err)
	}
}

func TestStartFromRunningIsRejected(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()

	if err := h.sup.Start(ctx, "local-1"); err != nil {
		t.Fatal(err)
	}
	err := h.sup.Start(ctx, "local-1")
	if !domain.IsKind(err, domain.KindInvalidState) {
		t.Fatalf("Expected invalid state, got %v", err)
	}
	if n := h.target.started(); n != 1 {
		t.Errorf("Expected process to be started once, got %d", n)
	}
	if st := h.state(t); st != domain.StateRunning {
		t.Errorf("Expected RUNNING, got %s", st)
	}
}

func TestStartRequiresInstall(t *testing.T) {
	h := newHarness(t, false, Options{})
	err := h.sup.Start(context.Background(), "local-1")
	if !domain.IsKind(err, domain.KindInvalidState) {
		t.Errorf("Expected invalid state, got %v", err)
	}
	if h.target.started() != 0 {
		t.Error("Expected no process to be launched")
	}
}

func TestUnknownConnection(t *testing.T) {
	h := newHarness(t, true, Options{})
	if _, err := h.sup.Status(context.Background(), "nope"); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestStartTimesOut(t *testing.T) {
	h := newHarness(t, true, Options{StartTimeout: 100 * time.Millisecond})
	h.target.script = func(p *fakeProcess) { p.emit("still loading") }

	err := h.sup.Start(context.Background(), "local-1")
	if !domain.IsKind(err, domain.KindTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if st := h.state(t); st != domain.StateError {
		t.Errorf("Expected ERROR, got %s", st)
	}
	if atomic.LoadInt32(&h.target.last().terms) == 0 {
		t.Error("Expected the stuck process to be terminated")
	}
}

func TestStartFailsWhenProcessExits(t *testing.T) {
	h := newHarness(t, true, Options{})
	h.target.script = func(p *fakeProcess) {
		p.emit("fatal: missing addon")
		p.exit(errors.New("exit status 1"))
	}

	if err := h.sup.Start(context.Background(), "local-1"); err == nil {
		t.Fatal("Expected start to fail")
	}
	if st := h.state(t); st != domain.StateError {
		t.Errorf("Expected ERROR, got %s", st)
	}
}

func TestStartWithoutMarkerUsesGrace(t *testing.T) {
	h := newHarness(t, true, Options{HealthGrace: 50 * time.Millisecond})
	h.sup.opts.ReadyMarker = ""
	h.target.script = nil

	if err := h.sup.Start(context.Background(), "local-1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st := h.state(t); st != domain.StateRunning {
		t.Errorf("Expected RUNNING, got %s", st)
	}
}

func TestStop(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()
	h.sup.Start(ctx, "local-1")

	if err := h.sup.Stop(ctx, "local-1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if st := h.state(t); st != domain.StateStopped {
		t.Errorf("Expected STOPPED, got %s", st)
	}
	waitFor(t, "stop events", func() bool {
		return containsSequence(h.states(), []domain.State{domain.StateRunning, domain.StateStopping, domain.StateStopped})
	})
	p := h.target.last()
	if atomic.LoadInt32(&p.terms) != 1 || atomic.LoadInt32(&p.kills) != 0 {
		t.Errorf("Expected one graceful terminate, got terms=%d kills=%d", atomic.LoadInt32(&p.terms), atomic.LoadInt32(&p.kills))
	}

	if err := h.sup.Stop(ctx, "local-1"); !domain.IsKind(err, domain.KindInvalidState) {
		t.Errorf("Expected invalid state stopping a stopped server, got %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	h := newHarness(t, true, Options{StopGrace: 50 * time.Millisecond})
	h.target.prepare = func(p *fakeProcess) { p.ignoreTerm = true }
	ctx := context.Background()
	h.sup.Start(ctx, "local-1")

	if err := h.sup.Stop(ctx, "local-1"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if atomic.LoadInt32(&h.target.last().kills) != 1 {
		t.Error("Expected kill after grace period")
	}
	if st := h.state(t); st != domain.StateStopped {
		t.Errorf("Expected STOPPED, got %s", st)
	}
}

func TestStopTimeoutThenReset(t *testing.T) {
	h := newHarness(t, true, Options{StopGrace: 30 * time.Millisecond, KillTimeout: 30 * time.Millisecond})
	h.target.prepare = func(p *fakeProcess) {
		p.ignoreTerm = true
		p.ignoreKill = true
	}
	ctx := context.Background()
	h.sup.Start(ctx, "local-1")

	err := h.sup.Stop(ctx, "local-1")
	if !domain.IsKind(err, domain.KindTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if st := h.state(t); st != domain.StateError {
		t.Fatalf("Expected ERROR, got %s", st)
	}

	if err := h.sup.Start(ctx, "local-1"); !domain.IsKind(err, domain.KindInvalidState) {
		t.Errorf("Expected start from ERROR to be rejected, got %v", err)
	}
	if err := h.sup.Reset(ctx, "local-1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if st := h.state(t); st != domain.StateStopped {
		t.Errorf("Expected STOPPED after reset, got %s", st)
	}
	if err := h.sup.Reset(ctx, "local-1"); !domain.IsKind(err, domain.KindInvalidState) {
		t.Errorf("Expected reset outside ERROR to be rejected, got %v", err)
	}
	h.target.last().exit(nil)
}

func TestRestart(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()
	h.sup.Start(ctx, "local-1")

	if err := h.sup.Restart(ctx, "local-1"); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if n := h.target.started(); n != 2 {
		t.Errorf("Expected two launches, got %d", n)
	}
	if st := h.state(t); st != domain.StateRunning {
		t.Errorf("Expected RUNNING, got %s", st)
	}
	waitFor(t, "restart events", func() bool {
		return containsSequence(h.states(), []domain.State{domain.StateRunning, domain.StateRestarting, domain.StateRunning})
	})
}

func TestRestartAbortsWhenStopFails(t *testing.T) {
	h := newHarness(t, true, Options{StopGrace: 30 * time.Millisecond, KillTimeout: 30 * time.Millisecond})
	h.target.prepare = func(p *fakeProcess) {
		p.ignoreTerm = true
		p.ignoreKill = true
	}
	ctx := context.Background()
	h.sup.Start(ctx, "local-1")

	if err := h.sup.Restart(ctx, "local-1"); !domain.IsKind(err, domain.KindTimeout) {
		t.Fatalf("Expected stop timeout, got %v", err)
	}
	if n := h.target.started(); n != 1 {
		t.Errorf("Expected no second launch, got %d", n)
	}
	if st := h.state(t); st != domain.StateError {
		t.Errorf("Expected ERROR, got %s", st)
	}
	h.target.last().exit(nil)
}

func TestUnexpectedExit(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()

	h.sup.Start(ctx, "local-1")
	h.target.last().exit(nil)
	h.waitState(t, domain.StateStopped)

	h.sup.Start(ctx, "local-1")
	h.target.last().exit(errors.New("exit status 3"))
	h.waitState(t, domain.StateError)

	if h.target.started() != 2 {
		t.Errorf("Expected no automatic restart, got %d launches", h.target.started())
	}
}

func TestConsoleAndVersionCapture(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()
	h.sup.Start(ctx, "local-1")

	lines, err := h.sup.ConsoleSnapshot(ctx, "local-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 || lines[2].Text != readyMarker {
		t.Errorf("Expected 3 console lines ending with the marker, got %+v", lines)
	}

	st, _ := h.sup.Status(ctx, "local-1")
	if st.Version != "1.2.0.76" || st.Map != "Everon" {
		t.Errorf("Expected version and map from console, got %q %q", st.Version, st.Map)
	}
	conn, _ := h.store.GetConnection(ctx, "local-1")
	if conn.ServerVersion != "1.2.0.76" {
		t.Errorf("Expected version to be persisted, got %q", conn.ServerVersion)
	}
}

func TestForgetStopsProcess(t *testing.T) {
	h := newHarness(t, true, Options{})
	ctx := context.Background()
	h.sup.Start(ctx, "local-1")

	if !h.sup.InUse("local-1") {
		t.Fatal("Expected running server to be in use")
	}
	if err := h.sup.Forget(ctx, "local-1"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-h.target.last().Done():
	default:
		t.Error("Expected process to be stopped")
	}
	if h.sup.InUse("local-1") {
		t.Error("Expected forgotten instance to be idle")
	}
}

type slowTarget struct {
	fakeTarget
	release chan struct{}
	entered chan struct{}
}

func (t *slowTarget) FS(ctx context.Context) (shell.FileSystem, error) {
	select {
	case t.entered <- struct{}{}:
	default:
	}
	select {
	case <-t.release:
	case <-ctx.Done():
	}
	return nil, errors.New("unreachable host")
}

func TestPollDoesNotWaitForSlowConnection(t *testing.T) {
	h := newHarness(t, true, Options{})
	if _, err := h.sup.Status(context.Background(), "local-1"); err != nil {
		t.Fatal(err)
	}

	slow := &slowTarget{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	h.sup.mu.Lock()
	h.sup.instances["remote-1"] = &instance{
		id:      "remote-1",
		conn:    domain.Connection{ID: "remote-1", Type: domain.ConnectionRemote, InstallPath: "/srv/reforger"},
		target:  slow,
		state:   domain.StateStopped,
		console: newConsoleBuffer(10),
	}
	h.sup.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.sup.pollStatus()
		close(done)
	}()

	<-slow.entered
	waitFor(t, "local snapshot", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, ev := range h.events {
			if ev.Kind == domain.EventStatus && ev.Status != nil {
				return true
			}
		}
		return false
	})

	select {
	case <-done:
		t.Fatal("Expected the poll to still wait for the slow connection")
	default:
	}

	// a second tick must not pile up on the blocked connection
	second := make(chan struct{})
	go func() {
		h.sup.pollStatus()
		close(second)
	}()
	select {
	case <-slow.entered:
		t.Error("Expected the busy connection to be skipped")
	case <-second:
	case <-time.After(2 * time.Second):
		t.Error("Expected the second tick to finish without the slow connection")
	}

	close(slow.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the poll to finish once the slow target answered")
	}
}
