package rcon

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"net"
	"sync"
	"time"
)

// BattlEye RCon packet types.
const (
	beLogin   byte = 0x00
	beCommand byte = 0x01
	beMessage byte = 0x02
)

// The server forgets a client that stays silent for 45 seconds.
const beIdleLimit = 40 * time.Second

var (
	errBadPacket     = errors.New("battleye: malformed packet")
	errBadChecksum   = errors.New("battleye: checksum mismatch")
	ErrLoginRejected = errors.New("battleye: login rejected")
)

// battlEyeConn is one BattlEye RCon session over UDP. Commands run one at a
// time.
type battlEyeConn struct {
	conn     net.Conn
	password string
	timeout  time.Duration

	mu       sync.Mutex
	seq      byte
	lastSent time.Time
	buf      []byte
}

// DialBattlEye logs in to a BattlEye RCon listener at address.
func DialBattlEye(ctx context.Context, address, password string, timeout time.Duration) (Conn, error) {
	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("battleye: %w", err)
	}
	c := &battlEyeConn{conn: nc, password: password, timeout: timeout, buf: make([]byte, 65507)}
	if err := c.login(); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *battlEyeConn) login() error {
	if err := c.write(append([]byte{beLogin}, c.password...)); err != nil {
		return err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	for {
		payload, err := c.read()
		if err != nil {
			return err
		}
		if payload == nil {
			continue
		}
		if payload[0] == beLogin && len(payload) >= 2 {
			if payload[1] != 0x01 {
				return ErrLoginRejected
			}
			return nil
		}
	}
}

func (c *battlEyeConn) Execute(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastSent) > beIdleLimit {
		if err := c.login(); err != nil {
			return "", err
		}
	}

	seq := c.seq
	c.seq++
	if err := c.write(append([]byte{beCommand, seq}, command...)); err != nil {
		return "", err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))

	var parts [][]byte
	got := 0
	for {
		payload, err := c.read()
		if err != nil {
			return "", err
		}
		if payload == nil || payload[0] != beCommand || len(payload) < 2 || payload[1] != seq {
			continue
		}
		data := payload[2:]
		// a multipart reply starts with 0x00, the part count and the part index
		if len(data) < 3 || data[0] != 0x00 {
			return string(data), nil
		}
		total, idx := int(data[1]), int(data[2])
		if total == 0 {
			return "", nil
		}
		if parts == nil {
			parts = make([][]byte, total)
		}
		if idx < len(parts) && parts[idx] == nil {
			parts[idx] = append([]byte(nil), data[3:]...)
			got++
		}
		if got == len(parts) {
			return string(bytes.Join(parts, nil)), nil
		}
	}
}

func (c *battlEyeConn) Close() error {
	return c.conn.Close()
}

// read returns the next payload starting at its type byte. Server messages
// are acknowledged and corrupt datagrams skipped, both yielding nil.
func (c *battlEyeConn) read() ([]byte, error) {
	n, err := c.conn.Read(c.buf)
	if err != nil {
		return nil, err
	}
	payload, err := parseBattlEye(c.buf[:n])
	if err != nil {
		return nil, nil
	}
	if payload[0] == beMessage && len(payload) >= 2 {
		if err := c.write([]byte{beMessage, payload[1]}); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return payload, nil
}

func (c *battlEyeConn) write(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(encodeBattlEye(payload)); err != nil {
		return fmt.Errorf("battleye: %w", err)
	}
	c.lastSent = time.Now()
	return nil
}

// encodeBattlEye frames payload as 'B' 'E', the CRC32 of everything after it
// in little endian, then 0xFF and the payload.
func encodeBattlEye(payload []byte) []byte {
	out := make([]byte, 7, 7+len(payload))
	out[0], out[1] = 'B', 'E'
	out[6] = 0xFF
	out = append(out, payload...)
	binary.LittleEndian.PutUint32(out[2:6], crc32.ChecksumIEEE(out[6:]))
	return out
}

func parseBattlEye(packet []byte) ([]byte, error) {
	if len(packet) < 8 || packet[0] != 'B' || packet[1] != 'E' || packet[6] != 0xFF {
		return nil, errBadPacket
	}
	if binary.LittleEndian.Uint32(packet[2:6]) != crc32.ChecksumIEEE(packet[6:]) {
		return nil, errBadChecksum
	}
	return packet[7:], nil
}
