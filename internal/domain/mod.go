package domain

import "time"

type Mod struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connectionId"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	Version      string    `json:"version,omitempty"`
	Enabled      bool      `json:"enabled"`
	Order        int       `json:"order"`
	GameVersion  string    `json:"gameVersion,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type ModDefinition struct {
	Name        *string `json:"name,omitempty"`
	Source      *string `json:"source,omitempty"`
	Version     *string `json:"version,omitempty"`
	GameVersion *string `json:"gameVersion,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

type ModCompatibility struct {
	ModID       string `json:"modId"`
	Name        string `json:"name"`
	GameVersion string `json:"gameVersion,omitempty"`
	Compatible  bool   `json:"compatible"`
	Reason      string `json:"reason,omitempty"`
}
