package config

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

const secretFileName = ".garrison_secret"

// LoadOrGenerateSecret returns the token signing secret. GARRISON_SECRET_KEY
// wins; otherwise the secret is read from configDir or created there.
func LoadOrGenerateSecret(configDir string) string {
	if env := os.Getenv(envPrefix + "SECRET_KEY"); env != "" {
		return env
	}

	secretPath := filepath.Join(configDir, secretFileName)
	if data, err := os.ReadFile(secretPath); err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			return s
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	secret := hex.EncodeToString(buf)

	if err := os.MkdirAll(configDir, 0755); err == nil {
		_ = os.WriteFile(secretPath, []byte(secret), 0600)
	}
	return secret
}
