package app

import (
	"context"
	"fmt"

	"garrison/internal/config"
	"garrison/internal/connection"
	"garrison/internal/domain"
	"garrison/internal/events"
	"garrison/internal/install"
	"garrison/internal/logs"
	"garrison/internal/metrics"
	"garrison/internal/mods"
	"garrison/internal/rcon"
	"garrison/internal/runner"
	"garrison/internal/serverconfig"
	"garrison/internal/shell"
	"garrison/internal/storage"
	"garrison/internal/ws"

	"go.uber.org/zap"
)

type Container struct {
	Config     *config.Config
	Store      *storage.GormStore
	Bus        *events.Bus
	Configs    *serverconfig.Manager
	Mods       *mods.Manager
	Supervisor *runner.Supervisor
	Relay      *rcon.Relay
	Registry   *connection.Registry
	Logs       *logs.Streamer
	HubManager *ws.HubManager
	Metrics    *metrics.Recorder
	Secret     string

	log *zap.SugaredLogger
}

// New opens the database and wires every component. Servers that were
// running before a restart are not adopted; see Supervisor.Restore.
func New(cfg *config.Config, secret string, log *zap.SugaredLogger) (*Container, error) {
	store, err := storage.NewGormStore(cfg.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	bus := events.NewBus(log)
	configs := serverconfig.NewManager(store, log)
	modManager := mods.NewManager(store, log)

	bootstrap := install.NewBootstrap(cfg.RuntimesPath, cfg.SteamCMDURL, cfg.SteamCMDPath, log)
	fetcher := install.NewSteamCMD(cfg.AppID, "", bootstrap, log)
	pipeline := install.NewPipeline(fetcher, cfg.ServerBinary, log)

	openTarget := func(conn domain.Connection) shell.Target {
		return shell.Open(conn, shell.Options{
			DialTimeout:    cfg.TestTimeout(),
			CommandTimeout: cfg.RemoteTimeout(),
			Log:            log,
		})
	}

	supervisor := runner.NewSupervisor(store, configs, modManager, pipeline, bus, openTarget, runner.Options{
		ServerBinary:   cfg.ServerBinary,
		ReadyMarker:    cfg.ReadyMarker,
		MaxFPS:         cfg.MaxFPS,
		ConsoleHistory: cfg.ConsoleHistory,
		StartTimeout:   cfg.StartTimeout(),
		HealthGrace:    cfg.HealthGrace(),
		StopGrace:      cfg.StopGrace(),
		KillTimeout:    cfg.KillTimeout(),
		InstallDisplay: cfg.InstallDisplayWindow(),
		CheckPorts:     true,
		RconProtocol:   cfg.RconProtocol,
	}, log)

	recorder := metrics.NewRecorder()
	relay := rcon.NewRelay(configs, supervisor, nil, cfg.RconTimeout(), log)
	relay.Protocol = cfg.RconProtocol
	relay.Recorder = recorder
	relay.Watch(bus)
	supervisor.UsePlayerSource(relay)

	registry := connection.NewRegistry(store, supervisor, openTarget, cfg.ServersPath, cfg.ServerBinary, cfg.TestTimeout(), log)
	streamer := logs.NewStreamer(supervisor, supervisor, bus, log)
	hubs := ws.NewHubManager(bus, streamer, relay, cfg.ConsoleHistory, cfg.AllowedOrigins, log)

	if cfg.MetricsEnabled {
		recorder.Attach(bus)
	}

	return &Container{
		Config:     cfg,
		Store:      store,
		Bus:        bus,
		Configs:    configs,
		Mods:       modManager,
		Supervisor: supervisor,
		Relay:      relay,
		Registry:   registry,
		Logs:       streamer,
		HubManager: hubs,
		Metrics:    recorder,
		Secret:     secret,
		log:        log,
	}, nil
}

// Start rebuilds the instance table from the stored connections and starts
// the status poll.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Supervisor.Restore(ctx); err != nil {
		c.log.Warnw("could not restore connections", "error", err)
	}
	if err := c.Supervisor.StartPolling(c.Config.StatusPollSpec); err != nil {
		return fmt.Errorf("could not schedule status poll: %w", err)
	}
	return nil
}

// Close stops every managed server before releasing shared resources.
func (c *Container) Close() {
	c.HubManager.Close()
	c.Supervisor.Close()
	c.Relay.Close()
	c.Bus.Close()
	if err := c.Store.Close(); err != nil {
		c.log.Warnw("error closing database", "error", err)
	}
}
