package mods

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"garrison/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	GetConnection(ctx context.Context, id string) (*domain.Connection, error)
	domain.ModRepository
}

// Manager keeps each connection's mod list. Changes apply on the next
// server start.
type Manager struct {
	Store Store
	log   *zap.SugaredLogger
}

func NewManager(store Store, log *zap.SugaredLogger) *Manager {
	return &Manager{Store: store, log: log.Named("mods")}
}

func (m *Manager) List(ctx context.Context, connectionID string) ([]domain.Mod, error) {
	if err := m.requireConnection(ctx, connectionID); err != nil {
		return nil, err
	}
	return m.Store.ListMods(ctx, connectionID)
}

func (m *Manager) Add(ctx context.Context, connectionID string, def domain.ModDefinition) (*domain.Mod, error) {
	if err := m.requireConnection(ctx, connectionID); err != nil {
		return nil, err
	}

	mod := &domain.Mod{
		ID:           uuid.New().String(),
		ConnectionID: connectionID,
		Enabled:      true,
		CreatedAt:    time.Now(),
	}
	applyDefinition(mod, def)
	if def.Enabled != nil {
		mod.Enabled = *def.Enabled
	}

	if err := validateMod(mod); err != nil {
		return nil, err
	}

	existing, err := m.Store.ListMods(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if strings.EqualFold(e.Source, mod.Source) {
			return nil, domain.ValidationFields("invalid mod", []domain.FieldError{{Field: "source", Message: fmt.Sprintf("%s is already attached as %s", mod.Source, e.Name)}})
		}
	}

	if err := m.Store.CreateMod(ctx, mod); err != nil {
		return nil, fmt.Errorf("error saving mod: %w", err)
	}
	m.log.Infow("mod added", "connection", connectionID, "mod", mod.Name, "order", mod.Order)
	return mod, nil
}

func (m *Manager) Toggle(ctx context.Context, modID string) (*domain.Mod, error) {
	mod, err := m.get(ctx, modID)
	if err != nil {
		return nil, err
	}
	mod.Enabled = !mod.Enabled
	if err := m.Store.UpdateMod(ctx, mod); err != nil {
		return nil, err
	}
	return mod, nil
}

func (m *Manager) Update(ctx context.Context, modID string, def domain.ModDefinition) (*domain.Mod, error) {
	mod, err := m.get(ctx, modID)
	if err != nil {
		return nil, err
	}
	applyDefinition(mod, def)
	if def.Enabled != nil {
		mod.Enabled = *def.Enabled
	}
	if err := validateMod(mod); err != nil {
		return nil, err
	}
	if err := m.Store.UpdateMod(ctx, mod); err != nil {
		return nil, err
	}
	return mod, nil
}

func (m *Manager) Remove(ctx context.Context, modID string) error {
	if err := m.Store.DeleteMod(ctx, modID); err != nil {
		return err
	}
	m.log.Infow("mod removed", "mod", modID)
	return nil
}

// Reorder applies the complete new order or nothing.
func (m *Manager) Reorder(ctx context.Context, connectionID string, orderedIDs []string) ([]domain.Mod, error) {
	if err := m.requireConnection(ctx, connectionID); err != nil {
		return nil, err
	}
	if err := m.Store.ReorderMods(ctx, connectionID, orderedIDs); err != nil {
		return nil, err
	}
	return m.Store.ListMods(ctx, connectionID)
}

func (m *Manager) CompatibilityReport(ctx context.Context, connectionID, serverVersion string) ([]domain.ModCompatibility, error) {
	list, err := m.List(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	report := make([]domain.ModCompatibility, 0, len(list))
	for _, mod := range list {
		entry := domain.ModCompatibility{ModID: mod.ID, Name: mod.Name, GameVersion: mod.GameVersion}
		ok, err := CheckCompatibility(mod, serverVersion)
		switch {
		case err != nil:
			entry.Reason = err.Error()
		case !ok:
			entry.Reason = fmt.Sprintf("requires game %s, server runs %s", mod.GameVersion, serverVersion)
		default:
			entry.Compatible = true
		}
		report = append(report, entry)
	}
	return report, nil
}

func (m *Manager) get(ctx context.Context, modID string) (*domain.Mod, error) {
	mod, err := m.Store.GetMod(ctx, modID)
	if err != nil {
		return nil, err
	}
	if mod == nil {
		return nil, domain.NotFound("mod %s not found", modID)
	}
	return mod, nil
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

func applyDefinition(mod *domain.Mod, def domain.ModDefinition) {
	if def.Name != nil {
		mod.Name = strings.TrimSpace(*def.Name)
	}
	if def.Source != nil {
		mod.Source = strings.TrimSpace(*def.Source)
	}
	if def.Version != nil {
		mod.Version = strings.TrimSpace(*def.Version)
	}
	if def.GameVersion != nil {
		mod.GameVersion = strings.TrimSpace(*def.GameVersion)
	}
}

func validateMod(mod *domain.Mod) error {
	var fields []domain.FieldError
	if mod.Name == "" {
		fields = append(fields, domain.FieldError{Field: "name", Message: "is required"})
	}
	if mod.Source == "" {
		fields = append(fields, domain.FieldError{Field: "source", Message: "is required"})
	} else if strings.IndexFunc(mod.Source, unicode.IsSpace) >= 0 {
		fields = append(fields, domain.FieldError{Field: "source", Message: "must not contain whitespace"})
	}
	if mod.GameVersion != "" {
		if _, err := ParseVersion(mod.GameVersion); err != nil {
			fields = append(fields, domain.FieldError{Field: "gameVersion", Message: "must be a dotted numeric version"})
		}
	}
	if len(fields) > 0 {
		return domain.ValidationFields("invalid mod", fields)
	}
	return nil
}
