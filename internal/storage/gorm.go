package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"garrison/internal/domain"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Connection struct {
	ID                 string `gorm:"primaryKey"`
	Name               string
	NameKey            string `gorm:"uniqueIndex"`
	Type               string
	Host               string
	Port               int
	Username           string
	Password           string
	PrivateKey         string
	HostKeyFingerprint string
	InstallPath        string
	IsDefault          bool `gorm:"index"`
	ServerVersion      string
	LastTestedAt       *time.Time
	LastTestOK         bool
	LastTestMessage    string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Mod struct {
	ID           string `gorm:"primaryKey"`
	ConnectionID string `gorm:"index"`
	Name         string
	Source       string
	Version      string
	Enabled      bool
	Position     int
	GameVersion  string
	CreatedAt    time.Time
}

type ServerConfig struct {
	ConnectionID string `gorm:"primaryKey"`
	Document     datatypes.JSON
	Revision     int
	UpdatedAt    time.Time
}

type GormStore struct {
	db *gorm.DB
}

var _ domain.Repository = (*GormStore)(nil)

func NewGormStore(path string, log *zap.SugaredLogger) (*GormStore, error) {
	newLogger := gormlogger.New(
		zap.NewStdLog(log.Desugar().Named("gorm")),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
			LogLevel:                  gormlogger.Error,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&Connection{}, &Mod{}, &ServerConfig{})
	if err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func toGormConnection(c *domain.Connection) *Connection {
	return &Connection{
		ID:                 c.ID,
		Name:               c.Name,
		NameKey:            nameKey(c.Name),
		Type:               string(c.Type),
		Host:               c.Host,
		Port:               c.Port,
		Username:           c.Username,
		Password:           c.Password,
		PrivateKey:         c.PrivateKey,
		HostKeyFingerprint: c.HostKeyFingerprint,
		InstallPath:        c.InstallPath,
		IsDefault:          c.IsDefault,
		ServerVersion:      c.ServerVersion,
		LastTestedAt:       c.LastTestedAt,
		LastTestOK:         c.LastTestOK,
		LastTestMessage:    c.LastTestMessage,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
	}
}

func (gc Connection) toDomain() domain.Connection {
	return domain.Connection{
		ID:                 gc.ID,
		Name:               gc.Name,
		Type:               domain.ConnectionType(gc.Type),
		Host:               gc.Host,
		Port:               gc.Port,
		Username:           gc.Username,
		Password:           gc.Password,
		PrivateKey:         gc.PrivateKey,
		HostKeyFingerprint: gc.HostKeyFingerprint,
		InstallPath:        gc.InstallPath,
		IsDefault:          gc.IsDefault,
		ServerVersion:      gc.ServerVersion,
		LastTestedAt:       gc.LastTestedAt,
		LastTestOK:         gc.LastTestOK,
		LastTestMessage:    gc.LastTestMessage,
		CreatedAt:          gc.CreatedAt,
		UpdatedAt:          gc.UpdatedAt,
	}
}

// CreateConnection makes the first connection the default and keeps at most
// one default row.
func (s *GormStore) CreateConnection(ctx context.Context, c *domain.Connection) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Connection{}).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			c.IsDefault = true
		}
		if c.IsDefault {
			if err := tx.Model(&Connection{}).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
				return err
			}
		}
		gc := toGormConnection(c)
		if err := tx.Create(gc).Error; err != nil {
			return err
		}
		c.CreatedAt = gc.CreatedAt
		c.UpdatedAt = gc.UpdatedAt
		return nil
	})
}

func (s *GormStore) UpdateConnection(ctx context.Context, c *domain.Connection) error {
	gc := toGormConnection(c)
	result := s.db.WithContext(ctx).Model(&Connection{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
		"name":                 gc.Name,
		"name_key":             gc.NameKey,
		"type":                 gc.Type,
		"host":                 gc.Host,
		"port":                 gc.Port,
		"username":             gc.Username,
		"password":             gc.Password,
		"private_key":          gc.PrivateKey,
		"host_key_fingerprint": gc.HostKeyFingerprint,
		"install_path":         gc.InstallPath,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("connection %s not found", c.ID)
	}
	return nil
}

func (s *GormStore) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	var gc Connection
	if err := s.db.WithContext(ctx).First(&gc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	c := gc.toDomain()
	return &c, nil
}

func (s *GormStore) GetConnectionByName(ctx context.Context, name string) (*domain.Connection, error) {
	var gc Connection
	if err := s.db.WithContext(ctx).First(&gc, "name_key = ?", nameKey(name)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	c := gc.toDomain()
	return &c, nil
}

func (s *GormStore) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	var rows []Connection
	if err := s.db.WithContext(ctx).Order("is_default DESC").Order("created_at ASC").Order("name_key ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	connections := make([]domain.Connection, 0, len(rows))
	for _, gc := range rows {
		connections = append(connections, gc.toDomain())
	}
	return connections, nil
}

func (s *GormStore) DeleteConnection(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var gc Connection
		if err := tx.First(&gc, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFound("connection %s not found", id)
			}
			return err
		}

		if err := tx.Where("connection_id = ?", id).Delete(&Mod{}).Error; err != nil {
			return fmt.Errorf("error deleting mods: %w", err)
		}
		if err := tx.Where("connection_id = ?", id).Delete(&ServerConfig{}).Error; err != nil {
			return fmt.Errorf("error deleting config: %w", err)
		}
		if err := tx.Delete(&Connection{}, "id = ?", id).Error; err != nil {
			return err
		}

		if !gc.IsDefault {
			return nil
		}

		var next Connection
		err := tx.Order("created_at ASC").Order("name_key ASC").First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Model(&Connection{}).Where("id = ?", next.ID).Update("is_default", true).Error
	})
}

func (s *GormStore) SetDefaultConnection(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Connection{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.NotFound("connection %s not found", id)
		}
		if err := tx.Model(&Connection{}).Where("is_default = ? AND id <> ?", true, id).Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&Connection{}).Where("id = ?", id).Update("is_default", true).Error
	})
}

func (s *GormStore) RecordTestResult(ctx context.Context, id string, ok bool, message string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Connection{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_tested_at":    at,
		"last_test_ok":      ok,
		"last_test_message": message,
	}).Error
}

func (s *GormStore) UpdateServerVersion(ctx context.Context, id string, version string) error {
	return s.db.WithContext(ctx).Model(&Connection{}).Where("id = ?", id).Update("server_version", version).Error
}

func (gm Mod) toDomain() domain.Mod {
	return domain.Mod{
		ID:           gm.ID,
		ConnectionID: gm.ConnectionID,
		Name:         gm.Name,
		Source:       gm.Source,
		Version:      gm.Version,
		Enabled:      gm.Enabled,
		Order:        gm.Position,
		GameVersion:  gm.GameVersion,
		CreatedAt:    gm.CreatedAt,
	}
}

// CreateMod appends the mod after the connection's last mod.
func (s *GormStore) CreateMod(ctx context.Context, m *domain.Mod) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Mod{}).Where("connection_id = ?", m.ConnectionID).Count(&count).Error; err != nil {
			return err
		}
		m.Order = int(count)

		gm := &Mod{
			ID:           m.ID,
			ConnectionID: m.ConnectionID,
			Name:         m.Name,
			Source:       m.Source,
			Version:      m.Version,
			Enabled:      m.Enabled,
			Position:     m.Order,
			GameVersion:  m.GameVersion,
			CreatedAt:    m.CreatedAt,
		}
		if err := tx.Create(gm).Error; err != nil {
			return err
		}
		m.CreatedAt = gm.CreatedAt
		return nil
	})
}

// UpdateMod writes every field except the position.
func (s *GormStore) UpdateMod(ctx context.Context, m *domain.Mod) error {
	result := s.db.WithContext(ctx).Model(&Mod{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
		"name":         m.Name,
		"source":       m.Source,
		"version":      m.Version,
		"enabled":      m.Enabled,
		"game_version": m.GameVersion,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("mod %s not found", m.ID)
	}
	return nil
}

func (s *GormStore) GetMod(ctx context.Context, id string) (*domain.Mod, error) {
	var gm Mod
	if err := s.db.WithContext(ctx).First(&gm, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	m := gm.toDomain()
	return &m, nil
}

func (s *GormStore) ListMods(ctx context.Context, connectionID string) ([]domain.Mod, error) {
	var rows []Mod
	if err := s.db.WithContext(ctx).Where("connection_id = ?", connectionID).Order("position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	mods := make([]domain.Mod, 0, len(rows))
	for _, gm := range rows {
		mods = append(mods, gm.toDomain())
	}
	return mods, nil
}

func (s *GormStore) DeleteMod(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var gm Mod
		if err := tx.First(&gm, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFound("mod %s not found", id)
			}
			return err
		}
		if err := tx.Delete(&Mod{}, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Model(&Mod{}).
			Where("connection_id = ? AND position > ?", gm.ConnectionID, gm.Position).
			Update("position", gorm.Expr("position - 1")).Error
	})
}

// ReorderMods rejects id lists that are not exactly the connection's mod set,
// then rewrites every position inside one transaction.
func (s *GormStore) ReorderMods(ctx context.Context, connectionID string, orderedIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&Mod{}).Where("connection_id = ?", connectionID).Pluck("id", &existing).Error; err != nil {
			return err
		}
		if err := SameIDSet(existing, orderedIDs); err != nil {
			return err
		}
		for i, id := range orderedIDs {
			if err := tx.Model(&Mod{}).Where("id = ? AND connection_id = ?", id, connectionID).Update("position", i).Error; err != nil {
				return fmt.Errorf("error moving mod %s: %w", id, err)
			}
		}
		return nil
	})
}

// SameIDSet reports a validation error unless ids is a permutation of existing.
func SameIDSet(existing, ids []string) error {
	if len(ids) != len(existing) {
		return domain.Validation("expected %d mod ids, got %d", len(existing), len(ids))
	}
	known := make(map[string]bool, len(existing))
	for _, id := range existing {
		known[id] = false
	}
	for _, id := range ids {
		seen, ok := known[id]
		if !ok {
			return domain.Validation("mod %s does not belong to this connection", id)
		}
		if seen {
			return domain.Validation("mod %s listed more than once", id)
		}
		known[id] = true
	}
	return nil
}

func (s *GormStore) GetServerConfig(ctx context.Context, connectionID string) (*domain.ServerConfig, error) {
	var row ServerConfig
	if err := s.db.WithContext(ctx).First(&row, "connection_id = ?", connectionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var cfg domain.ServerConfig
	if err := json.Unmarshal(row.Document, &cfg); err != nil {
		return nil, fmt.Errorf("error decoding config of %s: %w", connectionID, err)
	}
	return &cfg, nil
}

func (s *GormStore) SaveServerConfig(ctx context.Context, connectionID string, cfg domain.ServerConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ServerConfig
		err := tx.First(&row, "connection_id = ?", connectionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&ServerConfig{
				ConnectionID: connectionID,
				Document:     datatypes.JSON(doc),
				Revision:     1,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&ServerConfig{}).Where("connection_id = ?", connectionID).Updates(map[string]interface{}{
			"document": datatypes.JSON(doc),
			"revision": row.Revision + 1,
		}).Error
	})
}

func (s *GormStore) ConfigRevision(ctx context.Context, connectionID string) (int, error) {
	var row ServerConfig
	if err := s.db.WithContext(ctx).Select("revision").First(&row, "connection_id = ?", connectionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return row.Revision, nil
}
