package serverconfig

import (
	"encoding/json"
	"sort"

	"garrison/internal/domain"
)

type reforgerConfig struct {
	BindAddress   string            `json:"bindAddress,omitempty"`
	BindPort      int               `json:"bindPort"`
	PublicAddress string            `json:"publicAddress,omitempty"`
	PublicPort    int               `json:"publicPort"`
	A2S           reforgerA2S       `json:"a2s"`
	RCON          *reforgerRcon     `json:"rcon,omitempty"`
	Game          reforgerGame      `json:"game"`
	Operating     reforgerOperating `json:"operating"`
}

type reforgerA2S struct {
	Address string `json:"address,omitempty"`
	Port    int    `json:"port"`
}

type reforgerRcon struct {
	Address    string   `json:"address"`
	Port       int      `json:"port"`
	Password   string   `json:"password"`
	Permission string   `json:"permission"`
	MaxClients int      `json:"maxClients"`
	Blacklist  []string `json:"blacklist"`
	Whitelist  []string `json:"whitelist"`
}

type reforgerGame struct {
	Name           string                 `json:"name"`
	Password       string                 `json:"password"`
	PasswordAdmin  string                 `json:"passwordAdmin"`
	Admins         []string               `json:"admins"`
	ScenarioID     string                 `json:"scenarioId"`
	MaxPlayers     int                    `json:"maxPlayers"`
	Visible        bool                   `json:"visible"`
	CrossPlatform  bool                   `json:"crossPlatform"`
	GameProperties reforgerGameProperties `json:"gameProperties"`
	Mods           []reforgerMod          `json:"mods"`
}

type reforgerGameProperties struct {
	ServerMaxViewDistance    int  `json:"serverMaxViewDistance"`
	ServerMinGrassDistance   int  `json:"serverMinGrassDistance"`
	NetworkViewDistance      int  `json:"networkViewDistance"`
	DisableThirdPerson       bool `json:"disableThirdPerson"`
	BattlEye                 bool `json:"battlEye"`
	VONDisableUI             bool `json:"VONDisableUI"`
	VONDisableDirectSpeechUI bool `json:"VONDisableDirectSpeechUI"`
}

type reforgerMod struct {
	ModID   string `json:"modId"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type reforgerOperating struct {
	AILimit        int `json:"aiLimit"`
	PlayerSaveTime int `json:"playerSaveTime"`
}

// Render produces the server's own JSON config file. Disabled mods are
// left out and the rest keep their load order.
func Render(cfg domain.ServerConfig, mods []domain.Mod) ([]byte, error) {
	out := reforgerConfig{
		BindAddress:   cfg.BindAddress,
		BindPort:      cfg.BindPort,
		PublicAddress: cfg.PublicAddress,
		PublicPort:    cfg.PublicPort,
		A2S: reforgerA2S{
			Address: cfg.A2S.Address,
			Port:    cfg.A2S.Port,
		},
		Game: reforgerGame{
			Name:          cfg.Name,
			Password:      cfg.Password,
			PasswordAdmin: cfg.AdminPassword,
			Admins:        nonNil(cfg.Admins),
			ScenarioID:    cfg.ScenarioID,
			MaxPlayers:    cfg.MaxPlayers,
			Visible:       cfg.Visible,
			CrossPlatform: cfg.CrossPlatform,
			GameProperties: reforgerGameProperties{
				ServerMaxViewDistance:    cfg.ServerMaxViewDistance,
				ServerMinGrassDistance:   cfg.ServerMinGrassDistance,
				NetworkViewDistance:      cfg.NetworkViewDistance,
				DisableThirdPerson:       cfg.DisableThirdPerson,
				BattlEye:                 cfg.BattlEye,
				VONDisableUI:             cfg.VONDisableUI,
				VONDisableDirectSpeechUI: cfg.VONDisableDirectSpeechUI,
			},
			Mods: []reforgerMod{},
		},
		Operating: reforgerOperating{
			AILimit:        cfg.AILimit,
			PlayerSaveTime: cfg.AutosaveInterval,
		},
	}

	if cfg.RCON.Enabled {
		out.RCON = &reforgerRcon{
			Address:    cfg.RCON.Address,
			Port:       cfg.RCON.Port,
			Password:   cfg.RCON.Password,
			Permission: cfg.RCON.Permission,
			MaxClients: cfg.RCON.MaxClients,
			Blacklist:  nonNil(cfg.RCON.Blacklist),
			Whitelist:  nonNil(cfg.RCON.Whitelist),
		}
	}

	for _, m := range orderedEnabled(mods) {
		out.Game.Mods = append(out.Game.Mods, reforgerMod{ModID: m.Source, Name: m.Name, Version: m.Version})
	}

	return json.MarshalIndent(out, "", "  ")
}

func orderedEnabled(mods []domain.Mod) []domain.Mod {
	byOrder := make([]domain.Mod, 0, len(mods))
	for _, m := range mods {
		if m.Enabled {
			byOrder = append(byOrder, m)
		}
	}
	sort.SliceStable(byOrder, func(i, j int) bool { return byOrder[i].Order < byOrder[j].Order })
	return byOrder
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
