package domain

import (
	"path"
	"strings"
)

const (
	RconPermissionMonitor = "monitor"
	RconPermissionAdmin   = "admin"

	// RCON wire protocols. Arma Reforger speaks BattlEye RCon over UDP.
	RconProtocolBattlEye = "battleye"
	RconProtocolSource   = "source"

	DefaultScenarioID = "{ECC61978EDCC2B5A}Missions/23_Campaign.conf"
)

// ServerConfig is the whole configuration document of one connection. The
// label tag names the field in validation errors.
type ServerConfig struct {
	Name          string   `json:"name" label:"name" validate:"required,max=100"`
	Password      string   `json:"password" label:"password" validate:"max=64"`
	AdminPassword string   `json:"adminPassword" label:"adminPassword" validate:"max=64"`
	Admins        []string `json:"admins" label:"admins" validate:"dive,required,max=64"`
	MaxPlayers    int      `json:"maxPlayers" label:"maxPlayers" validate:"min=1,max=128"`

	BindAddress   string      `json:"bindAddress" label:"bindAddress" validate:"omitempty,ip"`
	BindPort      int         `json:"bindPort" label:"bindPort" validate:"min=1,max=65535"`
	PublicAddress string      `json:"publicAddress" label:"publicAddress" validate:"omitempty,ip|hostname"`
	PublicPort    int         `json:"publicPort" label:"publicPort" validate:"min=1,max=65535"`
	A2S           QueryConfig `json:"a2s"`
	RCON          RconConfig  `json:"rcon"`

	BattlEye      bool   `json:"battlEye"`
	Visible       bool   `json:"visible"`
	CrossPlatform bool   `json:"crossPlatform"`
	ScenarioID    string `json:"scenarioId" label:"scenarioId" validate:"required"`

	ServerMaxViewDistance  int `json:"serverMaxViewDistance" label:"serverMaxViewDistance" validate:"min=500,max=10000"`
	ServerMinGrassDistance int `json:"serverMinGrassDistance" label:"serverMinGrassDistance" validate:"min=0,max=150"`
	NetworkViewDistance    int `json:"networkViewDistance" label:"networkViewDistance" validate:"min=500,max=5000"`
	AILimit                int `json:"aiLimit" label:"aiLimit" validate:"min=-1"`
	AutosaveInterval       int `json:"autosaveInterval" label:"autosaveInterval" validate:"min=0,max=86400"`

	VONDisableUI             bool `json:"vonDisableUI"`
	VONDisableDirectSpeechUI bool `json:"vonDisableDirectSpeechUI"`
	DisableThirdPerson       bool `json:"disableThirdPerson"`
}

type QueryConfig struct {
	Address string `json:"address" label:"a2sAddress" validate:"omitempty,ip"`
	Port    int    `json:"port" label:"a2sPort" validate:"min=1,max=65535"`
}

type RconConfig struct {
	Enabled    bool     `json:"enabled"`
	Address    string   `json:"address" label:"rconAddress" validate:"omitempty,ip"`
	Port       int      `json:"port" label:"rconPort" validate:"min=1,max=65535"`
	Password   string   `json:"password" label:"rconPassword"`
	Permission string   `json:"permission" label:"rconPermission" validate:"oneof=monitor admin"`
	MaxClients int      `json:"maxClients" label:"rconMaxClients" validate:"min=1,max=16"`
	Blacklist  []string `json:"blacklist" label:"rconBlacklist" validate:"dive,required"`
	Whitelist  []string `json:"whitelist" label:"rconWhitelist" validate:"dive,required"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:        "Garrison Server",
		MaxPlayers:  64,
		BindAddress: "0.0.0.0",
		BindPort:    2001,
		PublicPort:  2001,
		A2S: QueryConfig{
			Address: "0.0.0.0",
			Port:    17777,
		},
		RCON: RconConfig{
			Enabled:    false,
			Address:    "127.0.0.1",
			Port:       19999,
			Permission: RconPermissionMonitor,
			MaxClients: 4,
		},
		BattlEye:               true,
		Visible:                true,
		ScenarioID:             DefaultScenarioID,
		ServerMaxViewDistance:  1600,
		ServerMinGrassDistance: 0,
		NetworkViewDistance:    1500,
		AILimit:                -1,
		AutosaveInterval:       120,
	}
}

// Mission returns the scenario file name without its resource GUID and
// extension, e.g. "23_Campaign".
func (c ServerConfig) Mission() string {
	id := c.ScenarioID
	if i := strings.Index(id, "}"); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return ""
	}
	base := path.Base(id)
	return strings.TrimSuffix(base, path.Ext(base))
}

// RconNetwork is the transport a protocol listens on.
func RconNetwork(protocol string) string {
	if protocol == RconProtocolSource {
		return "tcp"
	}
	return "udp"
}
