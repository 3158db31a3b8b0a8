package serverconfig

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"

	"garrison/internal/domain"
	"garrison/internal/logger"
	"garrison/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.GormStore) {
	t.Helper()
	store, err := storage.NewGormStore(filepath.Join(t.TempDir(), "test.db"), logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	conn := &domain.Connection{ID: "local-1", Name: "local-1", Type: domain.ConnectionLocal, InstallPath: "/srv/local-1"}
	if err := store.CreateConnection(context.Background(), conn); err != nil {
		t.Fatal(err)
	}
	return NewManager(store, logger.Nop()), store
}

func TestLoadReturnsDefaults(t *testing.T) {
	m, _ := newTestManager(t)

	cfg, err := m.Load(context.Background(), "local-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, domain.DefaultServerConfig()) {
		t.Errorf("Expected default config, got %+v", cfg)
	}

	if _, err := m.Load(context.Background(), "nope"); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("Expected not found for unknown connection, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cfg := domain.DefaultServerConfig()
	cfg.Name = "Clan Night"
	cfg.Admins = []string{"76561198000000001", "a8f1c2d3-0000-4000-8000-000000000000"}
	cfg.RCON.Enabled = true
	cfg.RCON.Password = "s3cret"
	cfg.RCON.Blacklist = []string{"shutdown"}
	cfg.RCON.Whitelist = []string{}

	saved, err := m.Save(ctx, "local-1", cfg)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !reflect.DeepEqual(saved, cfg) {
		t.Errorf("Save altered the document: %+v", saved)
	}

	loaded, err := m.Load(ctx, "local-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("Expected round trip, got %+v", loaded)
	}
}

func TestSaveRejectsEmptyRconPassword(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	good := domain.DefaultServerConfig()
	good.MaxPlayers = 40
	if _, err := m.Save(ctx, "local-1", good); err != nil {
		t.Fatal(err)
	}

	bad := good
	bad.RCON.Enabled = true
	bad.RCON.Password = ""
	_, err := m.Save(ctx, "local-1", bad)

	var verr *domain.Error
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	verr = err.(*domain.Error)
	if !verr.HasField("rconPassword") {
		t.Errorf("Expected rconPassword in %v", verr.Fields)
	}

	stored, _ := m.Load(ctx, "local-1")
	if stored.MaxPlayers != 40 || stored.RCON.Enabled {
		t.Errorf("Stored config changed after rejected save: %+v", stored)
	}
}

func TestValidateListsEveryViolation(t *testing.T) {
	cfg := domain.DefaultServerConfig()
	cfg.MaxPlayers = 0
	cfg.BindPort = 70000
	cfg.PublicPort = 0
	cfg.RCON.Enabled = true
	cfg.RCON.Password = "has space"
	cfg.RCON.Port = 0
	cfg.RCON.MaxClients = 17
	cfg.RCON.Permission = "root"

	err := Validate(cfg)
	verr, ok := err.(*domain.Error)
	if !ok || verr.Kind != domain.KindValidation {
		t.Fatalf("Expected validation error, got %v", err)
	}
	for _, field := range []string{"maxPlayers", "bindPort", "publicPort", "rconPassword", "rconPort", "rconMaxClients", "rconPermission"} {
		if !verr.HasField(field) {
			t.Errorf("Expected violation for %s, got %v", field, verr.Fields)
		}
	}
}

func TestRconPasswordRules(t *testing.T) {
	cases := []struct {
		password string
		ok       bool
	}{
		{"", false},
		{"ab", false},
		{"abc", true},
		{"a b c", false},
		{"tab\tbed", false},
		{"longer-Password1", true},
	}
	for _, c := range cases {
		cfg := domain.DefaultServerConfig()
		cfg.RCON.Enabled = true
		cfg.RCON.Password = c.password
		err := Validate(cfg)
		if (err == nil) != c.ok {
			t.Errorf("password %q: expected ok=%v, got %v", c.password, c.ok, err)
		}
	}

	cfg := domain.DefaultServerConfig()
	cfg.RCON.Enabled = false
	cfg.RCON.Password = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("Disabled RCON must not require a password: %v", err)
	}
}

func TestRconPortMustDifferFromBindPort(t *testing.T) {
	cfg := domain.DefaultServerConfig()
	cfg.RCON.Enabled = true
	cfg.RCON.Password = "secret"
	cfg.RCON.Port = cfg.BindPort

	err := Validate(cfg)
	verr, ok := err.(*domain.Error)
	if !ok || !verr.HasField("rconPort") {
		t.Fatalf("Expected rconPort violation, got %v", err)
	}
}

func TestRender(t *testing.T) {
	cfg := domain.DefaultServerConfig()
	mods := []domain.Mod{
		{ID: "2", Name: "Second", Source: "BBBB", Enabled: true, Order: 1},
		{ID: "1", Name: "First", Source: "AAAA", Enabled: true, Order: 0, Version: "1.0.3"},
		{ID: "3", Name: "Off", Source: "CCCC", Enabled: false, Order: 2},
	}

	data, err := Render(cfg, mods)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["rcon"]; ok {
		t.Error("Expected rcon block to be omitted while disabled")
	}

	game := out["game"].(map[string]any)
	rendered := game["mods"].([]any)
	if len(rendered) != 2 {
		t.Fatalf("Expected 2 enabled mods, got %d", len(rendered))
	}
	if rendered[0].(map[string]any)["modId"] != "AAAA" || rendered[1].(map[string]any)["modId"] != "BBBB" {
		t.Errorf("Mods out of order: %v", rendered)
	}

	cfg.RCON.Enabled = true
	cfg.RCON.Password = "secret"
	data, _ = Render(cfg, nil)
	out = nil
	json.Unmarshal(data, &out)
	rcon, ok := out["rcon"].(map[string]any)
	if !ok || rcon["password"] != "secret" {
		t.Errorf("Expected rcon block, got %v", out["rcon"])
	}
}

func TestRevisionCountsSaves(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if rev, err := m.Revision(ctx, "local-1"); err != nil || rev != 0 {
		t.Fatalf("Expected revision 0 before any save, got %d, %v", rev, err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.Save(ctx, "local-1", domain.DefaultServerConfig()); err != nil {
			t.Fatal(err)
		}
	}
	if rev, err := m.Revision(ctx, "local-1"); err != nil || rev != 2 {
		t.Errorf("Expected revision 2, got %d, %v", rev, err)
	}
	if _, err := m.Revision(ctx, "missing"); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}
