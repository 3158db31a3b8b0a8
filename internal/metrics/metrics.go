package metrics

import (
	"time"

	"garrison/internal/domain"
	"garrison/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ServerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "garrison_server_state",
			Help: "Lifecycle state (0=not installed, 1=installing, 2=stopped, 3=starting, 4=running, 5=stopping, 6=restarting, 7=error)",
		},
		[]string{"connection_id"},
	)

	InstallProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "garrison_install_progress_percent",
			Help: "Progress of the current install run",
		},
		[]string{"connection_id"},
	)

	ServerCPUPercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "garrison_server_cpu_percent",
			Help: "CPU usage of the game server process",
		},
		[]string{"connection_id"},
	)

	ServerMemoryBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "garrison_server_memory_bytes",
			Help: "Resident memory of the game server process",
		},
		[]string{"connection_id"},
	)

	ServerPlayers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "garrison_server_players",
			Help: "Players reported over RCON",
		},
		[]string{"connection_id"},
	)

	ServerUptime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "garrison_server_uptime_seconds",
			Help: "Uptime of the game server process",
		},
		[]string{"connection_id"},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrison_state_transitions_total",
			Help: "Lifecycle transitions by target state",
		},
		[]string{"state"},
	)

	RconCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garrison_rcon_commands_total",
			Help: "RCON commands by result (ok, rejected, busy, timeout, error)",
		},
		[]string{"result"},
	)
)

// StateToFloat converts a lifecycle state to the gauge value.
func StateToFloat(s domain.State) float64 {
	switch s {
	case domain.StateNotInstalled:
		return 0
	case domain.StateInstalling:
		return 1
	case domain.StateStopped:
		return 2
	case domain.StateStarting:
		return 3
	case domain.StateRunning:
		return 4
	case domain.StateStopping:
		return 5
	case domain.StateRestarting:
		return 6
	case domain.StateError:
		return 7
	default:
		return -1
	}
}

// Recorder feeds the collectors from bus events and RCON results.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Attach observes every connection on the bus.
func (r *Recorder) Attach(bus *events.Bus) *events.Subscription {
	return bus.SubscribeAll(r.Observe)
}

func (r *Recorder) Observe(ev domain.Event) {
	id := ev.ConnectionID
	switch ev.Kind {
	case domain.EventStatus:
		if ev.State != "" {
			ServerState.WithLabelValues(id).Set(StateToFloat(ev.State))
		}
		if ev.Previous != "" && ev.State != "" {
			StateTransitions.WithLabelValues(string(ev.State)).Inc()
		}
		if st := ev.Status; st != nil {
			ServerCPUPercent.WithLabelValues(id).Set(st.CPU)
			ServerMemoryBytes.WithLabelValues(id).Set(float64(st.Memory))
			ServerPlayers.WithLabelValues(id).Set(float64(st.Players))
			ServerUptime.WithLabelValues(id).Set(st.Uptime.Round(time.Second).Seconds())
		}
	case domain.EventInstall:
		if ev.Install != nil {
			InstallProgress.WithLabelValues(id).Set(ev.Install.Progress)
		}
	}
}

func (r *Recorder) RconCommand(result string) {
	RconCommands.WithLabelValues(result).Inc()
}

// Forget drops the series of a removed connection.
func (r *Recorder) Forget(id string) {
	for _, g := range []*prometheus.GaugeVec{ServerState, InstallProgress, ServerCPUPercent, ServerMemoryBytes, ServerPlayers, ServerUptime} {
		g.DeleteLabelValues(id)
	}
}
