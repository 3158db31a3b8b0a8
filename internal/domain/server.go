package domain

import "time"

type State string

const (
	StateNotInstalled State = "NOT_INSTALLED"
	StateInstalling   State = "INSTALLING"
	StateStopped      State = "STOPPED"
	StateStarting     State = "STARTING"
	StateRunning      State = "RUNNING"
	StateStopping     State = "STOPPING"
	StateRestarting   State = "RESTARTING"
	StateError        State = "ERROR"
)

func (s State) String() string {
	return string(s)
}

// Busy reports whether an operation currently owns the instance.
func (s State) Busy() bool {
	switch s {
	case StateInstalling, StateStarting, StateStopping, StateRestarting:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StateNotInstalled: {StateInstalling},
	StateInstalling:   {StateStopped},
	StateStopped:      {StateInstalling, StateStarting, StateNotInstalled},
	StateStarting:     {StateRunning, StateStopping},
	StateRunning:      {StateStopping, StateRestarting, StateStopped},
	StateStopping:     {StateStopped},
	StateRestarting:   {StateRunning},
	StateError:        {StateInstalling, StateStopped, StateNotInstalled},
}

// CanTransition reports whether the lifecycle graph allows from -> to.
// Every state may fall into ERROR.
func CanTransition(from, to State) bool {
	if to == StateError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type ProcessStatus struct {
	ConnectionID string           `json:"connectionId"`
	State        State            `json:"state"`
	IsInstalled  bool             `json:"isInstalled"`
	IsOnline     bool             `json:"isOnline"`
	Players      int              `json:"players"`
	MaxPlayers   int              `json:"maxPlayers"`
	CPU          float64          `json:"cpu"`
	Memory       uint64           `json:"memory"`
	Uptime       time.Duration    `json:"uptime"`
	Version      string           `json:"version,omitempty"`
	Map          string           `json:"map,omitempty"`
	Mission      string           `json:"mission,omitempty"`
	RconEnabled  bool             `json:"rconEnabled"`
	PID          int              `json:"pid,omitempty"`
	Install      *InstallProgress `json:"install,omitempty"`
}

type InstallPhase string

const (
	PhaseDownloading InstallPhase = "downloading"
	PhaseExtracting  InstallPhase = "extracting"
	PhaseConfiguring InstallPhase = "configuring"
	PhaseValidating  InstallPhase = "validating"
	PhaseComplete    InstallPhase = "complete"
	PhaseError       InstallPhase = "error"
)

type InstallProgress struct {
	ConnectionID string       `json:"connectionId"`
	Status       InstallPhase `json:"status"`
	Progress     float64      `json:"progress"`
	Message      string       `json:"message"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (p InstallProgress) Finished() bool {
	return p.Status == PhaseComplete || p.Status == PhaseError
}

// ProgressEvent reports byte-level progress of a download.
type ProgressEvent struct {
	Message      string  `json:"message"`
	Progress     float64 `json:"progress"`
	CurrentBytes int64   `json:"currentBytes"`
	TotalBytes   int64   `json:"totalBytes"`
}

type ResourceUsage struct {
	CPU    float64       `json:"cpu"`
	Memory uint64        `json:"memory"`
	Uptime time.Duration `json:"uptime"`
}
