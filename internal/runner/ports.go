package runner

import (
	"fmt"
	"net"

	"garrison/internal/domain"
)

// checkPorts verifies that the ports the server is about to bind are free on
// this host. Game traffic and queries are UDP. RCON follows its protocol.
func checkPorts(cfg domain.ServerConfig, rconProtocol string) error {
	if err := checkUDPPort(cfg.BindAddress, cfg.BindPort); err != nil {
		return domain.Wrap(domain.KindConflict, err, "bind port %d is already in use", cfg.BindPort)
	}
	if cfg.A2S.Port > 0 && cfg.A2S.Port != cfg.BindPort {
		if err := checkUDPPort(cfg.A2S.Address, cfg.A2S.Port); err != nil {
			return domain.Wrap(domain.KindConflict, err, "query port %d is already in use", cfg.A2S.Port)
		}
	}
	if cfg.RCON.Enabled {
		check := checkUDPPort
		if domain.RconNetwork(rconProtocol) == "tcp" {
			check = checkTCPPort
		}
		if err := check(cfg.RCON.Address, cfg.RCON.Port); err != nil {
			return domain.Wrap(domain.KindConflict, err, "rcon port %d is already in use", cfg.RCON.Port)
		}
	}
	return nil
}

func checkTCPPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return fmt.Errorf("port %d is not available: %w", port, err)
	}
	_ = ln.Close()
	return nil
}

func checkUDPPort(host string, port int) error {
	pc, err := net.ListenPacket("udp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return fmt.Errorf("port %d is not available: %w", port, err)
	}
	_ = pc.Close()
	return nil
}
