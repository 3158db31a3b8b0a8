package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"garrison/internal/domain"
)

const (
	defaultConfigName   = "config.json"
	defaultServersDir   = "servers"
	defaultRuntimesDir  = "runtimes"
	defaultLogsDir      = "logs"
	defaultDatabaseFile = "garrison.db"
	defaultPort         = 8420

	defaultAppID         = "1874900"
	defaultServerBinary  = "ArmaReforgerServer"
	defaultSteamCMDURL   = "https://steamcdn-a.akamaihd.net/client/installer/steamcmd_linux.tar.gz"
	defaultReadyMarker   = "Game successfully created"
	defaultStatusPoll    = "@every 15s"
	defaultConsoleLines  = 200
	defaultMaxFPS        = 60
	defaultLogLevel      = "info"
	defaultDisplayWindow = 5
)

type Config struct {
	ServersPath  string `json:"servers_path"`
	RuntimesPath string `json:"runtimes_path"`
	LogsPath     string `json:"logs_path"`
	DatabasePath string `json:"database_path"`
	Port         int    `json:"port"`
	LogLevel     string `json:"log_level"`

	AppID        string `json:"app_id"`
	ServerBinary string `json:"server_binary"`
	SteamCMDPath string `json:"steamcmd_path"`
	SteamCMDURL  string `json:"steamcmd_url"`
	ReadyMarker  string `json:"ready_marker"`
	MaxFPS       int    `json:"max_fps"`

	ConsoleHistory     int      `json:"console_history"`
	InstallDisplaySecs int      `json:"install_display_seconds"`
	StartTimeoutSecs   int      `json:"start_timeout_seconds"`
	HealthGraceSecs    int      `json:"health_grace_seconds"`
	StopGraceSecs      int      `json:"stop_grace_seconds"`
	KillTimeoutSecs    int      `json:"kill_timeout_seconds"`
	RemoteTimeoutSecs  int      `json:"remote_timeout_seconds"`
	TestTimeoutSecs    int      `json:"test_timeout_seconds"`
	RconTimeoutSecs    int      `json:"rcon_timeout_seconds"`
	RconProtocol       string   `json:"rcon_protocol"`
	StatusPollSpec     string   `json:"status_poll"`
	AuthEnabled        bool     `json:"auth_enabled"`
	MetricsEnabled     bool     `json:"metrics_enabled"`
	AllowedOrigins     []string `json:"allowed_origins"`
}

func LoadConfig(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, defaultConfigName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg, err := createDefaultConfig(configPath, configDir)
		if err != nil {
			return nil, err
		}
		applyEnv(configDir, cfg)
		return cfg, nil
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := defaults(configDir)
	if err := json.Unmarshal(file, cfg); err != nil {
		return nil, err
	}
	cfg.fillZero(configDir)
	applyEnv(configDir, cfg)

	return cfg, nil
}

func defaults(configDir string) *Config {
	return &Config{
		ServersPath:        filepath.Join(configDir, defaultServersDir),
		RuntimesPath:       filepath.Join(configDir, defaultRuntimesDir),
		LogsPath:           filepath.Join(configDir, defaultLogsDir),
		DatabasePath:       filepath.Join(configDir, defaultDatabaseFile),
		Port:               defaultPort,
		LogLevel:           defaultLogLevel,
		AppID:              defaultAppID,
		ServerBinary:       defaultServerBinary,
		SteamCMDURL:        defaultSteamCMDURL,
		ReadyMarker:        defaultReadyMarker,
		MaxFPS:             defaultMaxFPS,
		ConsoleHistory:     defaultConsoleLines,
		InstallDisplaySecs: defaultDisplayWindow,
		StartTimeoutSecs:   180,
		HealthGraceSecs:    10,
		StopGraceSecs:      30,
		KillTimeoutSecs:    10,
		RemoteTimeoutSecs:  15,
		TestTimeoutSecs:    10,
		RconTimeoutSecs:    5,
		RconProtocol:       domain.RconProtocolBattlEye,
		StatusPollSpec:     defaultStatusPoll,
		AuthEnabled:        true,
		MetricsEnabled:     true,
	}
}

// fillZero restores defaults for fields an older config file does not carry.
func (c *Config) fillZero(configDir string) {
	d := defaults(configDir)
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ConsoleHistory <= 0 {
		c.ConsoleHistory = d.ConsoleHistory
	}
	if c.InstallDisplaySecs <= 0 {
		c.InstallDisplaySecs = d.InstallDisplaySecs
	}
	if c.StartTimeoutSecs <= 0 {
		c.StartTimeoutSecs = d.StartTimeoutSecs
	}
	if c.HealthGraceSecs <= 0 {
		c.HealthGraceSecs = d.HealthGraceSecs
	}
	if c.StopGraceSecs <= 0 {
		c.StopGraceSecs = d.StopGraceSecs
	}
	if c.KillTimeoutSecs <= 0 {
		c.KillTimeoutSecs = d.KillTimeoutSecs
	}
	if c.RemoteTimeoutSecs <= 0 {
		c.RemoteTimeoutSecs = d.RemoteTimeoutSecs
	}
	if c.TestTimeoutSecs <= 0 {
		c.TestTimeoutSecs = d.TestTimeoutSecs
	}
	if c.RconTimeoutSecs <= 0 {
		c.RconTimeoutSecs = d.RconTimeoutSecs
	}
	c.RconProtocol = normalizeRconProtocol(c.RconProtocol)
	if c.StatusPollSpec == "" {
		c.StatusPollSpec = d.StatusPollSpec
	}
	if c.AppID == "" {
		c.AppID = d.AppID
	}
	if c.ServerBinary == "" {
		c.ServerBinary = d.ServerBinary
	}
	if c.SteamCMDURL == "" {
		c.SteamCMDURL = d.SteamCMDURL
	}
	if c.MaxFPS <= 0 {
		c.MaxFPS = d.MaxFPS
	}
}

// normalizeRconProtocol falls back to BattlEye for anything but "source".
func normalizeRconProtocol(p string) string {
	if strings.EqualFold(strings.TrimSpace(p), domain.RconProtocolSource) {
		return domain.RconProtocolSource
	}
	return domain.RconProtocolBattlEye
}

func createDefaultConfig(configPath, configDir string) (*Config, error) {
	cfg := defaults(configDir)

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return nil, err
	}

	return cfg, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c *Config) InstallDisplayWindow() time.Duration { return seconds(c.InstallDisplaySecs) }
func (c *Config) StartTimeout() time.Duration { return seconds(c.StartTimeoutSecs) }
func (c *Config) HealthGrace() time.Duration { return seconds(c.HealthGraceSecs) }
func (c *Config) StopGrace() time.Duration { return seconds(c.StopGraceSecs) }
func (c *Config) KillTimeout() time.Duration { return seconds(c.KillTimeoutSecs) }
func (c *Config) RemoteTimeout() time.Duration { return seconds(c.RemoteTimeoutSecs) }
func (c *Config) TestTimeout() time.Duration { return seconds(c.TestTimeoutSecs) }
func (c *Config) RconTimeout() time.Duration { return seconds(c.RconTimeoutSecs) }
