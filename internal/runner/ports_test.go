package runner

import (
	"net"
	"testing"

	"garrison/internal/domain"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := pc.LocalAddr().(*net.UDPAddr).Port
	pc.Close()
	return port
}

func TestRconPortCheckedOnItsTransport(t *testing.T) {
	held, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	cfg := domain.DefaultServerConfig()
	cfg.BindAddress = "127.0.0.1"
	cfg.BindPort = freeUDPPort(t)
	cfg.A2S.Port = 0
	cfg.RCON.Enabled = true
	cfg.RCON.Address = "127.0.0.1"
	cfg.RCON.Port = held.LocalAddr().(*net.UDPAddr).Port

	err = checkPorts(cfg, domain.RconProtocolBattlEye)
	if !domain.IsKind(err, domain.KindConflict) {
		t.Errorf("Expected a conflict for a busy UDP rcon port, got %v", err)
	}

	tcp, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer tcp.Close()
	cfg.RCON.Port = tcp.Addr().(*net.TCPAddr).Port

	if err := checkPorts(cfg, domain.RconProtocolSource); !domain.IsKind(err, domain.KindConflict) {
		t.Errorf("Expected a conflict for a busy TCP rcon port, got %v", err)
	}
}
