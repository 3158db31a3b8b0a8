package sdk

import (
	"time"

	"garrison/internal/domain"
)

// The daemon and the client share the document shapes.
type (
	ServerConfig     = domain.ServerConfig
	ProcessStatus    = domain.ProcessStatus
	InstallProgress  = domain.InstallProgress
	Mod              = domain.Mod
	ModDefinition    = domain.ModDefinition
	ModCompatibility = domain.ModCompatibility
	LogLine          = domain.LogLine
	LogDirectory     = domain.LogDirectory
	LogFile          = domain.LogFile
	TestResult       = domain.TestResult
	FieldError       = domain.FieldError
)

type Connection struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	Host               string     `json:"host,omitempty"`
	Port               int        `json:"port,omitempty"`
	Username           string     `json:"username,omitempty"`
	HostKeyFingerprint string     `json:"hostKeyFingerprint,omitempty"`
	InstallPath        string     `json:"installPath"`
	IsDefault          bool       `json:"isDefault"`
	HasCredentials     bool       `json:"hasCredentials"`
	ServerVersion      string     `json:"serverVersion,omitempty"`
	LastTestedAt       *time.Time `json:"lastTestedAt,omitempty"`
	LastTestOK         bool       `json:"lastTestOk"`
	LastTestMessage    string     `json:"lastTestMessage,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// ConnectionRequest is sent on create and update. Empty pointers are left
// out, so an update only touches what is set.
type ConnectionRequest = domain.ConnectionDefinition

type RconReply struct {
	Command string `json:"command"`
	Reply   string `json:"reply"`
}

// Frame is one websocket message of the console stream.
type Frame struct {
	Type      string           `json:"type"`
	Lines     []LogLine        `json:"lines,omitempty"`
	State     string           `json:"state,omitempty"`
	Previous  string           `json:"previous,omitempty"`
	Install   *InstallProgress `json:"install,omitempty"`
	Status    *ProcessStatus   `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	Command   string           `json:"command,omitempty"`
	Reply     string           `json:"reply,omitempty"`
	ErrorKind string           `json:"errorKind,omitempty"`
	Time      time.Time        `json:"time"`
}
