package ws

import (
	"context"
	"encoding/json"
	"time"

	"garrison/internal/domain"

	"go.uber.org/zap"
)

const (
	FrameConsole = "console"
	FrameStatus  = "status"
	FrameInstall = "install"
	FrameRcon    = "rcon"
	FrameError   = "error"
)

// Frame is what a websocket client receives.
type Frame struct {
	Type      string                  `json:"type"`
	Lines     []domain.LogLine        `json:"lines,omitempty"`
	State     domain.State            `json:"state,omitempty"`
	Previous  domain.State            `json:"previous,omitempty"`
	Install   *domain.InstallProgress `json:"install,omitempty"`
	Status    *domain.ProcessStatus   `json:"status,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Command   string                  `json:"command,omitempty"`
	Reply     string                  `json:"reply,omitempty"`
	ErrorKind domain.ErrorKind        `json:"errorKind,omitempty"`
	Time      time.Time               `json:"time"`
}

func frameOf(ev domain.Event) Frame {
	f := Frame{Message: ev.Message, Time: ev.Time}
	switch ev.Kind {
	case domain.EventConsole:
		f.Type = FrameConsole
		f.Lines = ev.Lines
	case domain.EventInstall:
		f.Type = FrameInstall
		f.Install = ev.Install
	default:
		f.Type = FrameStatus
		f.State = ev.State
		f.Previous = ev.Previous
		f.Status = ev.Status
	}
	return f
}

// Hub fans the events of one connection out to its websocket clients.
type Hub struct {
	id       string
	manager  *HubManager
	clients  map[*Client]bool
	events   chan domain.Event
	register chan *Client
	leave    chan *Client
	direct   chan directFrame
	stop     chan struct{}
	log      *zap.SugaredLogger
}

// directFrame is addressed to a single client, such as an rcon reply.
type directFrame struct {
	client *Client
	data   []byte
}

func newHub(id string, m *HubManager) *Hub {
	return &Hub{
		id:       id,
		manager:  m,
		clients:  make(map[*Client]bool),
		events:   make(chan domain.Event, 4096),
		register: make(chan *Client),
		leave:    make(chan *Client),
		direct:   make(chan directFrame),
		stop:     make(chan struct{}),
		log:      m.log.With("connection", id),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.replay(client)
			h.clients[client] = true

		case client := <-h.leave:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case m := <-h.direct:
			if h.clients[m.client] {
				h.deliver(m.client, m.data)
			}

		case ev := <-h.events:
			h.dispatch(ev)

		case <-h.stop:
			for client := range h.clients {
				close(client.send)
			}
			h.clients = nil
			return
		}
	}
}

// replay queues the console window for a new client. Live lines already in
// the window are skipped later by timestamp.
func (h *Hub) replay(client *Client) {
	if h.manager.Console == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	lines, err := h.manager.Console.TailConsole(ctx, h.id, h.manager.History)
	if err != nil {
		h.log.Warnw("console snapshot failed", "error", err)
		return
	}
	if len(lines) == 0 {
		return
	}
	client.since = lines[len(lines)-1].Timestamp
	data, err := json.Marshal(Frame{Type: FrameConsole, Lines: lines, Message: "snapshot", Time: time.Now()})
	if err != nil {
		return
	}
	client.send <- data
}

func (h *Hub) dispatch(ev domain.Event) {
	var shared []byte
	for client := range h.clients {
		frame := frameOf(ev)
		if ev.Kind == domain.EventConsole && !client.since.IsZero() {
			frame.Lines = client.fresh(ev.Lines)
			if len(frame.Lines) == 0 {
				continue
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			h.deliver(client, data)
			continue
		}
		if shared == nil {
			data, err := json.Marshal(frame)
			if err != nil {
				h.log.Errorw("error encoding frame", "error", err)
				return
			}
			shared = data
		}
		h.deliver(client, shared)
	}
}

// deliver drops a client that cannot keep up.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		delete(h.clients, client)
		close(client.send)
		h.log.Warn("websocket client too slow, disconnected")
	}
}

// Publish queues an event for the clients. When the queue is full the event
// is dropped rather than stalling the bus.
func (h *Hub) Publish(ev domain.Event) {
	select {
	case h.events <- ev:
	case <-h.stop:
	default:
		h.log.Warnw("websocket hub queue full, event dropped", "kind", ev.Kind)
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stop:
		return false
	}
}

// sendTo hands a frame to the hub loop, which owns every client's send
// channel. It reports false once the hub stopped.
func (h *Hub) sendTo(c *Client, data []byte) bool {
	select {
	case h.direct <- directFrame{client: c, data: data}:
		return true
	case <-h.stop:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.leave <- c:
	case <-h.stop:
	}
}

func (h *Hub) Stop() {
	close(h.stop)
}
