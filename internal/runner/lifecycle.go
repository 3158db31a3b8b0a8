package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"garrison/internal/domain"
	"garrison/internal/install"
	"garrison/internal/runner/strategy"
	"garrison/internal/shell"
)

var errNotInstalled = errors.New("server is not installed")

// processRun is the resource table entry of one launched process.
type processRun struct {
	proc      shell.Process
	startedAt time.Time
	ready     chan struct{}
	readyOnce sync.Once
	drained   chan struct{}

	mu       sync.Mutex
	expected bool
}

func newRun(proc shell.Process) *processRun {
	return &processRun{
		proc:      proc,
		startedAt: time.Now(),
		ready:     make(chan struct{}),
		drained:   make(chan struct{}),
	}
}

func (r *processRun) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

func (r *processRun) markExpected() {
	r.mu.Lock()
	r.expected = true
	r.mu.Unlock()
}

func (r *processRun) isExpected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expected
}

func (s *Supervisor) Start(ctx context.Context, id string) error {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return err
	}
	err = s.claim(inst, func(st domain.State) error {
		switch st {
		case domain.StateStopped:
			return nil
		case domain.StateInstalling:
			return domain.Conflict("cannot start while an install is in progress")
		case domain.StateNotInstalled:
			return domain.InvalidState("server is not installed")
		case domain.StateRunning, domain.StateStarting:
			return domain.InvalidState("server is already running")
		default:
			return domain.InvalidState("cannot start from %s", st)
		}
	})
	if err != nil {
		return err
	}

	run, runner, err := s.launch(ctx, inst)
	if err != nil {
		inst.mu.Lock()
		inst.pending = false
		switch {
		case errors.Is(err, errNotInstalled):
			s.setState(inst, domain.StateNotInstalled, err.Error())
			err = domain.InvalidState("server is not installed")
		case domain.KindOf(err) == domain.KindInternal:
			s.setState(inst, domain.StateError, err.Error())
		}
		inst.mu.Unlock()
		return err
	}

	inst.mu.Lock()
	inst.run = run
	inst.pending = false
	s.setState(inst, domain.StateStarting, "process launched")
	inst.mu.Unlock()

	return s.awaitHealthy(inst, run, runner.ReadyMarker())
}

// launch renders the configuration onto the target and spawns the server.
// Errors that leave the instance untouched carry a domain kind.
func (s *Supervisor) launch(ctx context.Context, inst *instance) (*processRun, strategy.ServerRunner, error) {
	conn, err := s.Store.GetConnection(ctx, inst.id)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading connection: %w", err)
	}
	if conn == nil {
		return nil, nil, domain.NotFound("connection %s not found", inst.id)
	}
	inst.mu.Lock()
	inst.conn = *conn
	target := inst.target
	inst.mu.Unlock()

	cfg, err := s.Configs.Load(ctx, conn.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading server config: %w", err)
	}
	mods, err := s.Mods.List(ctx, conn.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading mods: %w", err)
	}

	runner := strategy.GetRunner(*conn, s.runnerOptions())
	if !install.IsInstalled(ctx, target, conn.InstallPath, runner.BinaryName()) {
		return nil, nil, errNotInstalled
	}

	fs, err := target.FS(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening target filesystem: %w", err)
	}
	data, err := runner.RenderConfig(cfg, mods)
	if err != nil {
		return nil, nil, fmt.Errorf("error rendering config: %w", err)
	}
	cfgPath := install.ConfigPath(fs, conn.InstallPath)
	if err := fs.MkdirAll(fs.Join(conn.InstallPath, "garrison")); err != nil {
		return nil, nil, fmt.Errorf("error preparing config dir: %w", err)
	}
	if err := fs.WriteFile(cfgPath, data, 0644); err != nil {
		return nil, nil, fmt.Errorf("error writing config: %w", err)
	}

	if s.opts.CheckPorts && !conn.IsRemote() {
		if err := checkPorts(cfg, s.opts.RconProtocol); err != nil {
			return nil, nil, err
		}
	}

	spec, err := runner.BuildCommand(fs, conn.InstallPath)
	if err != nil {
		return nil, nil, err
	}

	// the process outlives the request that started it
	proc, err := target.Start(context.WithoutCancel(ctx), spec)
	if err != nil {
		return nil, nil, err
	}

	s.log.Infow("server process launched", "connection", conn.ID, "pid", proc.PID(), "mods", len(mods))
	inst.console.Reset()
	run := newRun(proc)
	go s.pump(inst, run, runner.ReadyMarker())
	return run, runner, nil
}

// awaitHealthy waits for the ready marker, or for the health grace when no
// marker is configured, and moves the instance to RUNNING.
func (s *Supervisor) awaitHealthy(inst *instance, run *processRun, marker string) error {
	deadline := time.NewTimer(s.opts.StartTimeout)
	defer deadline.Stop()

	var grace <-chan time.Time
	if marker == "" {
		t := time.NewTimer(s.opts.HealthGrace)
		defer t.Stop()
		grace = t.C
	}

	var failure error
	select {
	case <-run.ready:
	case <-grace:
	case <-run.proc.Done():
		failure = fmt.Errorf("server exited during startup: %v", run.proc.ExitErr())
	case <-deadline.C:
		failure = domain.Timeout("server did not become ready within %s", s.opts.StartTimeout)
	}

	inst.mu.Lock()
	if inst.run != run {
		// stopped or forgotten while starting
		inst.mu.Unlock()
		return domain.InvalidState("start was interrupted")
	}
	if failure == nil {
		select {
		case <-run.proc.Done():
			failure = fmt.Errorf("server exited during startup: %v", run.proc.ExitErr())
		default:
			s.setState(inst, domain.StateRunning, "server is ready")
			inst.mu.Unlock()
			return nil
		}
	}
	inst.run = nil
	s.setState(inst, domain.StateError, failure.Error())
	inst.mu.Unlock()

	if err := s.halt(run); err != nil {
		s.log.Errorw("could not kill failed server", "connection", inst.id, "error", err)
	}
	return failure
}

func (s *Supervisor) Stop(ctx context.Context, id string) error {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return err
	}
	err = s.claim(inst, func(st domain.State) error {
		switch st {
		case domain.StateRunning, domain.StateStarting:
			return nil
		case domain.StateInstalling:
			return domain.Conflict("cannot stop while an install is in progress")
		default:
			return domain.InvalidState("cannot stop from %s", st)
		}
	})
	if err != nil {
		return err
	}

	inst.mu.Lock()
	run := inst.run
	inst.run = nil
	inst.pending = false
	s.setState(inst, domain.StateStopping, "stop requested")
	inst.mu.Unlock()

	var stopErr error
	if run != nil {
		stopErr = s.halt(run)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if stopErr != nil {
		s.setState(inst, domain.StateError, stopErr.Error())
		return stopErr
	}
	s.setState(inst, domain.StateStopped, "server stopped")
	return nil
}

func (s *Supervisor) Restart(ctx context.Context, id string) error {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return err
	}
	err = s.claim(inst, func(st domain.State) error {
		if st != domain.StateRunning {
			return domain.InvalidState("cannot restart from %s", st)
		}
		return nil
	})
	if err != nil {
		return err
	}

	inst.mu.Lock()
	run := inst.run
	inst.run = nil
	s.setState(inst, domain.StateRestarting, "restart requested")
	inst.mu.Unlock()

	if run != nil {
		if err := s.halt(run); err != nil {
			inst.mu.Lock()
			inst.pending = false
			s.setState(inst, domain.StateError, err.Error())
			inst.mu.Unlock()
			return err
		}
	}

	next, runner, err := s.launch(ctx, inst)
	if err != nil {
		inst.mu.Lock()
		inst.pending = false
		s.setState(inst, domain.StateError, err.Error())
		inst.mu.Unlock()
		return err
	}

	inst.mu.Lock()
	inst.run = next
	inst.pending = false
	inst.mu.Unlock()

	return s.awaitHealthy(inst, next, runner.ReadyMarker())
}

// Reset clears an ERROR state after the operator has dealt with the cause.
func (s *Supervisor) Reset(ctx context.Context, id string) error {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return err
	}
	err = s.claim(inst, func(st domain.State) error {
		if st != domain.StateError {
			return domain.InvalidState("only a failed server can be reset, state is %s", st)
		}
		return nil
	})
	if err != nil {
		return err
	}

	inst.mu.Lock()
	run := inst.run
	inst.run = nil
	conn := inst.conn
	target := inst.target
	inst.mu.Unlock()

	if run != nil {
		_ = s.halt(run)
	}
	installed := s.binaryPresent(ctx, target, conn)

	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.pending = false
	if installed {
		s.setState(inst, domain.StateStopped, "reset")
	} else {
		s.setState(inst, domain.StateNotInstalled, "reset")
	}
	return nil
}

// halt terminates the process, escalating to a kill after the stop grace.
func (s *Supervisor) halt(run *processRun) error {
	run.markExpected()
	select {
	case <-run.proc.Done():
		return nil
	default:
	}

	if err := run.proc.Terminate(); err != nil {
		s.log.Debugw("terminate failed", "pid", run.proc.PID(), "error", err)
	}
	grace := time.NewTimer(s.opts.StopGrace)
	defer grace.Stop()
	select {
	case <-run.proc.Done():
		return nil
	case <-grace.C:
	}

	s.log.Warnw("server ignored terminate, killing", "pid", run.proc.PID())
	if err := run.proc.Kill(); err != nil {
		s.log.Debugw("kill failed", "pid", run.proc.PID(), "error", err)
	}
	kill := time.NewTimer(s.opts.KillTimeout)
	defer kill.Stop()
	select {
	case <-run.proc.Done():
		return nil
	case <-kill.C:
		return domain.Timeout("process %d did not exit after kill", run.proc.PID())
	}
}

// pump feeds process output into the console and watches for readiness and
// build information until the process exits.
func (s *Supervisor) pump(inst *instance, run *processRun, marker string) {
	shell.ScanLines(run.proc.Output(), func(line string) {
		s.appendConsole(inst, line)
		if marker != "" && strings.Contains(line, marker) {
			run.markReady()
		}
		if v := parseVersion(line); v != "" {
			s.captureVersion(inst, v)
		}
		if w := parseWorld(line); w != "" {
			inst.mu.Lock()
			inst.world = w
			inst.mu.Unlock()
		}
	})
	close(run.drained)
	<-run.proc.Done()
	s.onExit(inst, run)
}

func (s *Supervisor) captureVersion(inst *instance, version string) {
	inst.mu.Lock()
	changed := inst.version != version
	inst.version = version
	inst.mu.Unlock()
	if !changed {
		return
	}
	if err := s.Store.UpdateServerVersion(context.Background(), inst.id, version); err != nil {
		s.log.Warnw("could not persist server version", "connection", inst.id, "error", err)
	}
}

// onExit handles a process that died on its own while RUNNING.
func (s *Supervisor) onExit(inst *instance, run *processRun) {
	if run.isExpected() {
		return
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.run != run || inst.state != domain.StateRunning {
		// startup failures are handled by awaitHealthy
		return
	}
	inst.run = nil
	inst.world = ""

	exitErr := run.proc.ExitErr()
	code, _ := shell.ExitCode(exitErr)
	if exitErr == nil || code == 0 {
		s.setState(inst, domain.StateStopped, "server exited")
		return
	}
	s.log.Errorw("server crashed", "connection", inst.id, "code", code, "error", exitErr)
	s.setState(inst, domain.StateError, fmt.Sprintf("server exited unexpectedly with code %d", code))
}
