package mods

import (
	"context"
	"path/filepath"
	"testing"

	"garrison/internal/domain"
	"garrison/internal/logger"
	"garrison/internal/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewGormStore(filepath.Join(t.TempDir(), "test.db"), logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	conn := &domain.Connection{ID: "c1", Name: "c1", Type: domain.ConnectionLocal, InstallPath: "/srv/c1"}
	if err := store.CreateConnection(context.Background(), conn); err != nil {
		t.Fatal(err)
	}
	return NewManager(store, logger.Nop())
}

func str(s string) *string { return &s }

func addMod(t *testing.T, m *Manager, name, source string) *domain.Mod {
	t.Helper()
	mod, err := m.Add(context.Background(), "c1", domain.ModDefinition{Name: str(name), Source: str(source)})
	if err != nil {
		t.Fatalf("Add(%s) failed: %v", name, err)
	}
	return mod
}

func orderOf(list []domain.Mod) map[string]int {
	out := make(map[string]int, len(list))
	for _, m := range list {
		out[m.Name] = m.Order
	}
	return out
}

func TestAddAppendsInOrder(t *testing.T) {
	m := newTestManager(t)
	a := addMod(t, m, "A", "5965550F24A0C152")
	b := addMod(t, m, "B", "59727DAE364DEADB")

	if a.Order != 0 || b.Order != 1 {
		t.Errorf("Expected orders 0 and 1, got %d and %d", a.Order, b.Order)
	}
	if !a.Enabled {
		t.Error("Expected new mod to be enabled")
	}
}

func TestAddValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Add(ctx, "c1", domain.ModDefinition{Source: str("ABC")})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("Expected validation error for missing name, got %v", err)
	}

	_, err = m.Add(ctx, "c1", domain.ModDefinition{Name: str("X"), Source: str("ABC"), GameVersion: str("1.x")})
	var derr *domain.Error
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("Expected validation error for bad game version, got %v", err)
	}
	if de, ok := err.(*domain.Error); ok {
		derr = de
	}
	if derr == nil || !derr.HasField("gameVersion") {
		t.Errorf("Expected gameVersion field error, got %v", err)
	}

	addMod(t, m, "A", "ABC")
	if _, err := m.Add(ctx, "c1", domain.ModDefinition{Name: str("A2"), Source: str("abc")}); !domain.IsKind(err, domain.KindValidation) {
		t.Errorf("Expected duplicate source to be rejected, got %v", err)
	}

	if _, err := m.Add(ctx, "missing", domain.ModDefinition{Name: str("A"), Source: str("B")}); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("Expected not found for unknown connection, got %v", err)
	}
}

func TestReorder(t *testing.T) {
	m := newTestManager(t)
	a := addMod(t, m, "A", "A1")
	b := addMod(t, m, "B", "B1")
	c := addMod(t, m, "C", "C1")

	list, err := m.Reorder(context.Background(), "c1", []string{c.ID, a.ID, b.ID})
	if err != nil {
		t.Fatalf("Reorder failed: %v", err)
	}

	got := orderOf(list)
	if got["C"] != 0 || got["A"] != 1 || got["B"] != 2 {
		t.Errorf("Expected C=0 A=1 B=2, got %v", got)
	}
}

func TestReorderRejectsPartialList(t *testing.T) {
	m := newTestManager(t)
	a := addMod(t, m, "A", "A1")
	b := addMod(t, m, "B", "B1")
	addMod(t, m, "C", "C1")
	ctx := context.Background()

	if _, err := m.Reorder(ctx, "c1", []string{b.ID, a.ID}); !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}

	list, err := m.List(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	got := orderOf(list)
	if got["A"] != 0 || got["B"] != 1 || got["C"] != 2 {
		t.Errorf("Expected order untouched, got %v", got)
	}
}

func TestRemoveCompactsOrder(t *testing.T) {
	m := newTestManager(t)
	addMod(t, m, "A", "A1")
	b := addMod(t, m, "B", "B1")
	addMod(t, m, "C", "C1")
	ctx := context.Background()

	if err := m.Remove(ctx, b.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	list, _ := m.List(ctx, "c1")
	got := orderOf(list)
	if len(list) != 2 || got["A"] != 0 || got["C"] != 1 {
		t.Errorf("Expected A=0 C=1, got %v", got)
	}

	if err := m.Remove(ctx, b.ID); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("Expected not found on second remove, got %v", err)
	}
}

func TestToggleAndUpdate(t *testing.T) {
	m := newTestManager(t)
	a := addMod(t, m, "A", "A1")
	ctx := context.Background()

	toggled, err := m.Toggle(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if toggled.Enabled {
		t.Error("Expected mod to be disabled after toggle")
	}

	updated, err := m.Update(ctx, a.ID, domain.ModDefinition{Version: str("1.0.4"), GameVersion: str("1.2.0")})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != "1.0.4" || updated.GameVersion != "1.2.0" || updated.Name != "A" {
		t.Errorf("Unexpected mod after update: %+v", updated)
	}
	if updated.Enabled {
		t.Error("Expected update to keep enabled flag")
	}

	if _, err := m.Toggle(ctx, "nope"); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestCompatibilityReport(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.Add(ctx, "c1", domain.ModDefinition{Name: str("New"), Source: str("N1"), GameVersion: str("1.3.0")})
	m.Add(ctx, "c1", domain.ModDefinition{Name: str("Old"), Source: str("O1"), GameVersion: str("1.1.0")})
	m.Add(ctx, "c1", domain.ModDefinition{Name: str("Any"), Source: str("X1")})

	report, err := m.CompatibilityReport(ctx, "c1", "1.2.0")
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(report))
	}
	want := map[string]bool{"New": false, "Old": true, "Any": true}
	for _, r := range report {
		if r.Compatible != want[r.Name] {
			t.Errorf("%s: Expected compatible=%v, got %v (%s)", r.Name, want[r.Name], r.Compatible, r.Reason)
		}
	}
}
