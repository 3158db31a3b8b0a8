package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"garrison/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// console lines up to since were part of the snapshot
	since time.Time
}

func (c *Client) fresh(lines []domain.LogLine) []domain.LogLine {
	out := make([]domain.LogLine, 0, len(lines))
	for _, l := range lines {
		if l.Timestamp.After(c.since) {
			out = append(out, l)
		}
	}
	if len(out) > 0 {
		c.since = time.Time{}
	}
	return out
}

type commandMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Content string `json:"content"`
}

// parseCommand accepts either a raw command line or a JSON message.
func parseCommand(data []byte) string {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		var msg commandMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			if msg.Command != "" {
				return strings.TrimSpace(msg.Command)
			}
			return strings.TrimSpace(msg.Content)
		}
	}
	return text
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("websocket read error", "error", err)
			}
			return
		}
		command := parseCommand(data)
		if command == "" {
			continue
		}
		c.reply(c.execute(command))
	}
}

func (c *Client) execute(command string) Frame {
	frame := Frame{Type: FrameRcon, Command: command, Time: time.Now()}
	commands := c.hub.manager.Commands
	if commands == nil {
		frame.Type = FrameError
		frame.ErrorKind = domain.KindDisabled
		frame.Message = "rcon is not available"
		return frame
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	reply, err := commands.SendCommand(ctx, c.hub.id, command)
	if err != nil {
		frame.Type = FrameError
		frame.ErrorKind = domain.KindOf(err)
		frame.Message = err.Error()
		return frame
	}
	frame.Reply = reply
	return frame
}

// reply goes to this client only, through the hub loop.
func (c *Client) reply(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.hub.sendTo(c, data)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
