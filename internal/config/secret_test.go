package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrGenerateSecretPersists(t *testing.T) {
	t.Setenv("GARRISON_SECRET_KEY", "")
	dir := filepath.Join(t.TempDir(), "nested")

	first := LoadOrGenerateSecret(dir)
	if len(first) != 64 {
		t.Fatalf("Expected 64 char hex secret, got %q", first)
	}

	info, err := os.Stat(filepath.Join(dir, secretFileName))
	if err != nil {
		t.Fatalf("Expected secret file in %s, got %v", dir, err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected secret file mode 0600, got %v", info.Mode().Perm())
	}

	if again := LoadOrGenerateSecret(dir); again != first {
		t.Errorf("Expected the stored secret %s, got %s", first, again)
	}
}

func TestLoadOrGenerateSecretRegeneratesBlankFile(t *testing.T) {
	t.Setenv("GARRISON_SECRET_KEY", "")
	dir := t.TempDir()
	path := filepath.Join(dir, secretFileName)
	if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}

	secret := LoadOrGenerateSecret(dir)
	if len(secret) != 64 {
		t.Fatalf("Expected a fresh secret, got %q", secret)
	}
	data, _ := os.ReadFile(path)
	if string(data) != secret {
		t.Errorf("Expected file to hold %s, got %q", secret, data)
	}
}

func TestSecretFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GARRISON_SECRET_KEY", "custom-env-secret")

	if got := LoadOrGenerateSecret(dir); got != "custom-env-secret" {
		t.Errorf("Expected env secret, got %s", got)
	}
	if _, err := os.Stat(filepath.Join(dir, secretFileName)); !os.IsNotExist(err) {
		t.Errorf("Expected no secret file when the env var is set, got %v", err)
	}
}
