package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "GARRISON_"

func IsDev() bool {
	return getEnvBool("DEV", false)
}

// GetPort is used by the CLI, which has no config file of its own.
func GetPort() int {
	return getEnvInt("PORT", defaultPort)
}

// applyEnv loads .env files (working directory first, then the config dir)
// and lets GARRISON_* variables override the file values.
func applyEnv(configDir string, cfg *Config) {
	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ServersPath = getEnv("SERVERS_PATH", cfg.ServersPath)
	cfg.DatabasePath = getEnv("DATABASE_PATH", cfg.DatabasePath)
	cfg.SteamCMDPath = getEnv("STEAMCMD_PATH", cfg.SteamCMDPath)
	cfg.AppID = getEnv("APP_ID", cfg.AppID)
	cfg.ReadyMarker = getEnv("READY_MARKER", cfg.ReadyMarker)
	cfg.StatusPollSpec = getEnv("STATUS_POLL", cfg.StatusPollSpec)
	cfg.AuthEnabled = getEnvBool("AUTH_ENABLED", cfg.AuthEnabled)
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.StartTimeoutSecs = getEnvInt("START_TIMEOUT", cfg.StartTimeoutSecs)
	cfg.StopGraceSecs = getEnvInt("STOP_GRACE", cfg.StopGraceSecs)
	cfg.RconProtocol = normalizeRconProtocol(getEnv("RCON_PROTOCOL", cfg.RconProtocol))
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	if IsDev() {
		cfg.LogLevel = "debug"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
