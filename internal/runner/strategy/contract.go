package strategy

import (
	"garrison/internal/domain"
	"garrison/internal/shell"
)

// ServerRunner knows how a particular game server is configured and launched.
type ServerRunner interface {
	// RenderConfig produces the file the server reads at startup.
	RenderConfig(cfg domain.ServerConfig, mods []domain.Mod) ([]byte, error)
	BuildCommand(fs shell.FileSystem, installPath string) (shell.LaunchSpec, error)
	// BinaryName is the server executable relative to the install path.
	BinaryName() string
	// ReadyMarker is the console text that proves the server accepts players.
	// Empty means readiness is assumed after a grace period.
	ReadyMarker() string
}

type Options struct {
	Binary      string
	ReadyMarker string
	MaxFPS      int
	LogStatsMs  int
}
