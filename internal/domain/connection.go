package domain

import (
	"strings"
	"time"
)

type ConnectionType string

const (
	ConnectionLocal  ConnectionType = "local"
	ConnectionRemote ConnectionType = "remote"
)

type Connection struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Type               ConnectionType `json:"type"`
	Host               string         `json:"host,omitempty"`
	Port               int            `json:"port,omitempty"`
	Username           string         `json:"username,omitempty"`
	Password           string         `json:"-"`
	PrivateKey         string         `json:"-"`
	HostKeyFingerprint string         `json:"hostKeyFingerprint,omitempty"`
	InstallPath        string         `json:"installPath"`
	IsDefault          bool           `json:"isDefault"`
	ServerVersion      string         `json:"serverVersion,omitempty"`
	LastTestedAt       *time.Time     `json:"lastTestedAt,omitempty"`
	LastTestOK         bool           `json:"lastTestOk"`
	LastTestMessage    string         `json:"lastTestMessage,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

func (c Connection) IsRemote() bool {
	return c.Type == ConnectionRemote
}

func (c Connection) HasCredentials() bool {
	return c.Password != "" || strings.TrimSpace(c.PrivateKey) != ""
}

// ConnectionDefinition is the input accepted by add and update. Nil pointer
// fields are left untouched on update.
type ConnectionDefinition struct {
	Name               *string         `json:"name,omitempty"`
	Type               *ConnectionType `json:"type,omitempty"`
	Host               *string         `json:"host,omitempty"`
	Port               *int            `json:"port,omitempty"`
	Username           *string         `json:"username,omitempty"`
	Password           *string         `json:"password,omitempty"`
	PrivateKey         *string         `json:"privateKey,omitempty"`
	HostKeyFingerprint *string         `json:"hostKeyFingerprint,omitempty"`
	InstallPath        *string         `json:"installPath,omitempty"`
}

func (d ConnectionDefinition) Apply(c *Connection) {
	if d.Name != nil {
		c.Name = strings.TrimSpace(*d.Name)
	}
	if d.Type != nil {
		c.Type = *d.Type
	}
	if d.Host != nil {
		c.Host = strings.TrimSpace(*d.Host)
	}
	if d.Port != nil {
		c.Port = *d.Port
	}
	if d.Username != nil {
		c.Username = strings.TrimSpace(*d.Username)
	}
	if d.Password != nil {
		c.Password = *d.Password
	}
	if d.PrivateKey != nil {
		c.PrivateKey = *d.PrivateKey
	}
	if d.HostKeyFingerprint != nil {
		c.HostKeyFingerprint = strings.TrimSpace(*d.HostKeyFingerprint)
	}
	if d.InstallPath != nil {
		c.InstallPath = strings.TrimSpace(*d.InstallPath)
	}
}

type TestResult struct {
	ConnectionID string        `json:"connectionId"`
	OK           bool          `json:"ok"`
	Message      string        `json:"message"`
	Latency      time.Duration `json:"latency"`
}
