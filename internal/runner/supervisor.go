package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"garrison/internal/domain"
	"garrison/internal/events"
	"garrison/internal/install"
	"garrison/internal/runner/strategy"
	"garrison/internal/shell"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Store interface {
	GetConnection(ctx context.Context, id string) (*domain.Connection, error)
	ListConnections(ctx context.Context) ([]domain.Connection, error)
	UpdateServerVersion(ctx context.Context, id string, version string) error
}

type ConfigSource interface {
	Load(ctx context.Context, connectionID string) (domain.ServerConfig, error)
}

type ModSource interface {
	List(ctx context.Context, connectionID string) ([]domain.Mod, error)
}

type Installer interface {
	Run(ctx context.Context, req install.Request, onProgress func(domain.InstallProgress), onOutput func(string)) error
}

type PlayerSource interface {
	CountPlayers(ctx context.Context, connectionID string) (int, error)
}

type TargetFactory func(conn domain.Connection) shell.Target

type Options struct {
	ServerBinary   string
	ReadyMarker    string
	MaxFPS         int
	ConsoleHistory int
	StartTimeout   time.Duration
	HealthGrace    time.Duration
	StopGrace      time.Duration
	KillTimeout    time.Duration
	InstallDisplay time.Duration
	// CheckPorts tests the game ports before launching on local targets.
	CheckPorts bool
	// RconProtocol decides whether the rcon port is checked as UDP or TCP.
	RconProtocol string
}

func (o *Options) setDefaults() {
	if o.ConsoleHistory <= 0 {
		o.ConsoleHistory = 200
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 3 * time.Minute
	}
	if o.HealthGrace <= 0 {
		o.HealthGrace = 10 * time.Second
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 30 * time.Second
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = 10 * time.Second
	}
	if o.InstallDisplay <= 0 {
		o.InstallDisplay = 5 * time.Second
	}
}

// Supervisor drives the lifecycle of one game server per connection. All
// process handles live in its instance table and are released on every exit
// path.
type Supervisor struct {
	Store      Store
	Configs    ConfigSource
	Mods       ModSource
	Installer  Installer
	Bus        *events.Bus
	OpenTarget TargetFactory

	opts    Options
	players PlayerSource
	log     *zap.SugaredLogger

	instances map[string]*instance
	mu        sync.Mutex
	cron      *cron.Cron
	wg        sync.WaitGroup
	polling   sync.Map
}

type instance struct {
	mu sync.Mutex

	id      string
	conn    domain.Connection
	target  shell.Target
	state   domain.State
	pending bool
	run     *processRun
	console *consoleBuffer

	install       *domain.InstallProgress
	installGen    int
	cancelInstall context.CancelFunc

	version string
	world   string
}

func NewSupervisor(store Store, configs ConfigSource, mods ModSource, installer Installer, bus *events.Bus, open TargetFactory, opts Options, log *zap.SugaredLogger) *Supervisor {
	opts.setDefaults()
	return &Supervisor{
		Store:      store,
		Configs:    configs,
		Mods:       mods,
		Installer:  installer,
		Bus:        bus,
		OpenTarget: open,
		opts:       opts,
		log:        log.Named("supervisor"),
		instances:  make(map[string]*instance),
	}
}

// UsePlayerSource wires the player counter, which itself depends on the
// supervisor's state.
func (s *Supervisor) UsePlayerSource(p PlayerSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players = p
}

// Restore registers every stored connection so the status poll covers them.
func (s *Supervisor) Restore(ctx context.Context) error {
	conns, err := s.Store.ListConnections(ctx)
	if err != nil {
		return err
	}
	for _, c := range conns {
		if _, err := s.instance(ctx, c.ID); err != nil {
			s.log.Warnw("could not restore connection", "connection", c.ID, "error", err)
		}
	}
	return nil
}

func (s *Supervisor) instance(ctx context.Context, id string) (*instance, error) {
	s.mu.Lock()
	inst, ok := s.instances[id]
	s.mu.Unlock()
	if ok {
		return inst, nil
	}

	conn, err := s.Store.GetConnection(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error loading connection: %w", err)
	}
	if conn == nil {
		return nil, domain.NotFound("connection %s not found", id)
	}

	target := s.OpenTarget(*conn)
	state := domain.StateNotInstalled
	if s.binaryPresent(ctx, target, *conn) {
		state = domain.StateStopped
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.instances[id]; ok {
		_ = target.Close()
		return existing, nil
	}
	inst = &instance{
		id:      id,
		conn:    *conn,
		target:  target,
		state:   state,
		console: newConsoleBuffer(s.opts.ConsoleHistory),
	}
	s.instances[id] = inst
	s.log.Debugw("instance registered", "connection", id, "state", state)
	return inst, nil
}

func (s *Supervisor) binaryPresent(ctx context.Context, target shell.Target, conn domain.Connection) bool {
	runner := strategy.GetRunner(conn, s.runnerOptions())
	return install.IsInstalled(ctx, target, conn.InstallPath, runner.BinaryName())
}

func (s *Supervisor) runnerOptions() strategy.Options {
	return strategy.Options{
		Binary:      s.opts.ServerBinary,
		ReadyMarker: s.opts.ReadyMarker,
		MaxFPS:      s.opts.MaxFPS,
		LogStatsMs:  60000,
	}
}

// claim reserves the instance for one lifecycle call. check decides whether
// the current state admits the call.
func (s *Supervisor) claim(inst *instance, check func(domain.State) error) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.pending {
		if inst.state == domain.StateInstalling {
			return domain.Conflict("an install is already in progress")
		}
		return domain.InvalidState("another operation is in progress on %s", inst.conn.Name)
	}
	if err := check(inst.state); err != nil {
		return err
	}
	inst.pending = true
	return nil
}

func (s *Supervisor) release(inst *instance) {
	inst.mu.Lock()
	inst.pending = false
	inst.mu.Unlock()
}

// setState moves the instance along the lifecycle graph and publishes the
// change. Callers hold inst.mu.
func (s *Supervisor) setState(inst *instance, to domain.State, message string) {
	from := inst.state
	if from == to {
		return
	}
	if !domain.CanTransition(from, to) {
		s.log.Errorw("illegal state transition", "connection", inst.id, "from", from, "to", to)
		return
	}
	inst.state = to
	s.log.Infow("state changed", "connection", inst.id, "from", from, "to", to, "message", message)
	s.Bus.Publish(inst.id, domain.Event{
		Kind:     domain.EventStatus,
		State:    to,
		Previous: from,
		Message:  message,
	})
}

func (s *Supervisor) appendConsole(inst *instance, text string) {
	line := domain.NewLogLine(text, time.Now())
	inst.console.Append(line)
	s.Bus.Publish(inst.id, domain.Event{Kind: domain.EventConsole, Lines: []domain.LogLine{line}})
}

// Target returns the shared target of a connection together with the
// connection details it was opened for.
func (s *Supervisor) Target(ctx context.Context, id string) (shell.Target, domain.Connection, error) {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return nil, domain.Connection{}, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.target, inst.conn, nil
}

// State returns the lifecycle state, registering the connection on first use.
func (s *Supervisor) State(ctx context.Context, id string) (domain.State, error) {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return "", err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state, nil
}

func (s *Supervisor) IsOnline(id string) bool {
	s.mu.Lock()
	inst, ok := s.instances[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state == domain.StateRunning
}

// InUse reports whether a process is alive or an operation owns the instance.
func (s *Supervisor) InUse(id string) bool {
	s.mu.Lock()
	inst, ok := s.instances[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.run != nil || inst.pending || inst.state.Busy()
}

func (s *Supervisor) ConsoleSnapshot(ctx context.Context, id string, n int) ([]domain.LogLine, error) {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return nil, err
	}
	return inst.console.Tail(n), nil
}

func (s *Supervisor) InstallProgress(ctx context.Context, id string) (*domain.InstallProgress, error) {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.install == nil {
		return nil, nil
	}
	p := *inst.install
	return &p, nil
}

// Status reads the current process status. Offline servers are reported as
// such; only unknown connections produce an error.
func (s *Supervisor) Status(ctx context.Context, id string) (domain.ProcessStatus, error) {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return domain.ProcessStatus{}, err
	}

	inst.mu.Lock()
	st := domain.ProcessStatus{
		ConnectionID: id,
		State:        inst.state,
		IsOnline:     inst.state == domain.StateRunning,
		Version:      inst.version,
		Map:          inst.world,
	}
	if inst.install != nil {
		p := *inst.install
		st.Install = &p
	}
	run := inst.run
	conn := inst.conn
	target := inst.target
	inst.mu.Unlock()

	if st.Version == "" {
		st.Version = conn.ServerVersion
	}

	switch st.State {
	case domain.StateNotInstalled, domain.StateInstalling:
	case domain.StateStopped, domain.StateError:
		st.IsInstalled = s.binaryPresent(ctx, target, conn)
	default:
		st.IsInstalled = true
	}

	if cfg, err := s.Configs.Load(ctx, id); err == nil {
		st.MaxPlayers = cfg.MaxPlayers
		st.RconEnabled = cfg.RCON.Enabled
		st.Mission = cfg.Mission()
	} else {
		s.log.Debugw("status without config", "connection", id, "error", err)
	}

	if run != nil {
		st.PID = run.proc.PID()
		st.Uptime = time.Since(run.startedAt).Truncate(time.Second)
		uctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if usage, err := target.Usage(uctx, st.PID); err == nil {
			st.CPU = usage.CPU
			st.Memory = usage.Memory
		}
		cancel()
	}

	s.mu.Lock()
	players := s.players
	s.mu.Unlock()
	if st.IsOnline && st.RconEnabled && players != nil {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if n, err := players.CountPlayers(pctx, id); err == nil {
			st.Players = n
		}
		cancel()
	}

	return st, nil
}

// Refresh drops the cached connection details so the next operation uses
// the stored ones. The target is reopened when it is idle.
func (s *Supervisor) Refresh(ctx context.Context, id string) error {
	s.mu.Lock()
	inst, ok := s.instances[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	conn, err := s.Store.GetConnection(ctx, id)
	if err != nil || conn == nil {
		return err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.conn = *conn
	if inst.run == nil && !inst.pending && !inst.state.Busy() {
		_ = inst.target.Close()
		inst.target = s.OpenTarget(*conn)
	}
	return nil
}

// Forget stops whatever runs for the connection and drops its instance.
func (s *Supervisor) Forget(ctx context.Context, id string) error {
	s.mu.Lock()
	inst, ok := s.instances[id]
	delete(s.instances, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	inst.mu.Lock()
	run := inst.run
	inst.run = nil
	inst.installGen++
	cancel := inst.cancelInstall
	inst.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if run != nil {
		err = s.halt(run)
	}
	_ = inst.target.Close()
	s.Bus.RemoveTopic(id)
	s.log.Infow("instance forgotten", "connection", id)
	return err
}

// Close stops the status poll and every running server.
func (s *Supervisor) Close() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Forget(context.Background(), id); err != nil {
			s.log.Warnw("error stopping server on shutdown", "connection", id, "error", err)
		}
	}
	s.wg.Wait()
}
