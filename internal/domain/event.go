package domain

import "time"

type EventKind string

const (
	EventStatus  EventKind = "status"
	EventInstall EventKind = "install"
	EventConsole EventKind = "console"
)

type Event struct {
	ConnectionID string           `json:"connectionId"`
	Kind         EventKind        `json:"kind"`
	Time         time.Time        `json:"time"`
	State        State            `json:"state,omitempty"`
	Previous     State            `json:"previous,omitempty"`
	Install      *InstallProgress `json:"install,omitempty"`
	Lines        []LogLine        `json:"lines,omitempty"`
	Status       *ProcessStatus   `json:"status,omitempty"`
	Message      string           `json:"message,omitempty"`
}
