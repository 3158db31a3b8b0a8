package serverconfig

import (
	"context"
	"fmt"

	"garrison/internal/domain"

	"go.uber.org/zap"
)

type Store interface {
	GetConnection(ctx context.Context, id string) (*domain.Connection, error)
	domain.ConfigRepository
}

// Manager owns the configuration document of every connection. Saved
// documents only reach the game on the next start or restart.
type Manager struct {
	Store Store
	log   *zap.SugaredLogger
}

func NewManager(store Store, log *zap.SugaredLogger) *Manager {
	return &Manager{Store: store, log: log.Named("config")}
}

// Load returns the stored document or the defaults when none was saved yet.
func (m *Manager) Load(ctx context.Context, connectionID string) (domain.ServerConfig, error) {
	if err := m.requireConnection(ctx, connectionID); err != nil {
		return domain.ServerConfig{}, err
	}

	cfg, err := m.Store.GetServerConfig(ctx, connectionID)
	if err != nil {
		return domain.ServerConfig{}, fmt.Errorf("error loading config: %w", err)
	}
	if cfg == nil {
		return domain.DefaultServerConfig(), nil
	}
	return *cfg, nil
}

func (m *Manager) Save(ctx context.Context, connectionID string, cfg domain.ServerConfig) (domain.ServerConfig, error) {
	if err := m.requireConnection(ctx, connectionID); err != nil {
		return domain.ServerConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return domain.ServerConfig{}, err
	}
	if err := m.Store.SaveServerConfig(ctx, connectionID, cfg); err != nil {
		return domain.ServerConfig{}, fmt.Errorf("error saving config: %w", err)
	}
	m.log.Infow("server config saved", "connection", connectionID, "rcon", cfg.RCON.Enabled)
	return cfg, nil
}

// Revision returns how many times the document was saved, 0 for defaults.
func (m *Manager) Revision(ctx context.Context, connectionID string) (int, error) {
	if err := m.requireConnection(ctx, connectionID); err != nil {
		return 0, err
	}
	rev, err := m.Store.ConfigRevision(ctx, connectionID)
	if err != nil {
		return 0, fmt.Errorf("error loading config revision: %w", err)
	}
	return rev, nil
}

func (m *Manager) requireConnection(ctx context.Context, connectionID string) error {
	conn, err := m.Store.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	if conn == nil {
		return domain.NotFound("connection %s not found", connectionID)
	}
	return nil
}
