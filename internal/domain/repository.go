package domain

import (
	"context"
	"time"
)

type ConnectionRepository interface {
	CreateConnection(ctx context.Context, c *Connection) error
	UpdateConnection(ctx context.Context, c *Connection) error
	GetConnection(ctx context.Context, id string) (*Connection, error)
	GetConnectionByName(ctx context.Context, name string) (*Connection, error)
	ListConnections(ctx context.Context) ([]Connection, error)
	// DeleteConnection removes the connection with its mods and config and
	// promotes a new default when the deleted one was the default.
	DeleteConnection(ctx context.Context, id string) error
	SetDefaultConnection(ctx context.Context, id string) error
	RecordTestResult(ctx context.Context, id string, ok bool, message string, at time.Time) error
	UpdateServerVersion(ctx context.Context, id string, version string) error
}

type ModRepository interface {
	CreateMod(ctx context.Context, m *Mod) error
	UpdateMod(ctx context.Context, m *Mod) error
	GetMod(ctx context.Context, id string) (*Mod, error)
	ListMods(ctx context.Context, connectionID string) ([]Mod, error)
	// DeleteMod removes the mod and compacts the order of its siblings.
	DeleteMod(ctx context.Context, id string) error
	// ReorderMods assigns order = index for every id in one transaction.
	ReorderMods(ctx context.Context, connectionID string, orderedIDs []string) error
}

type ConfigRepository interface {
	GetServerConfig(ctx context.Context, connectionID string) (*ServerConfig, error)
	SaveServerConfig(ctx context.Context, connectionID string, cfg ServerConfig) error
	// ConfigRevision counts the saves of a connection's document, 0 when
	// none was saved.
	ConfigRevision(ctx context.Context, connectionID string) (int, error)
}

type Repository interface {
	ConnectionRepository
	ModRepository
	ConfigRepository
}
