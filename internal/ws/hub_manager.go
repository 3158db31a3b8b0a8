package ws

import (
	"context"
	"net/http"
	"sync"

	"garrison/internal/domain"
	"garrison/internal/events"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Console interface {
	TailConsole(ctx context.Context, id string, maxLines int) ([]domain.LogLine, error)
}

type Commander interface {
	SendCommand(ctx context.Context, id, text string) (string, error)
}

// HubManager keeps one hub per connection that has websocket clients. Each
// hub is an observer of the connection's bus topic.
type HubManager struct {
	Bus      *events.Bus
	Console  Console
	Commands Commander
	History  int

	upgrader websocket.Upgrader
	log      *zap.SugaredLogger

	mu   sync.Mutex
	hubs map[string]*managedHub
}

type managedHub struct {
	hub *Hub
	sub *events.Subscription
}

func NewHubManager(bus *events.Bus, console Console, commands Commander, history int, allowedOrigins []string, log *zap.SugaredLogger) *HubManager {
	if history <= 0 {
		history = 200
	}
	m := &HubManager{
		Bus:      bus,
		Console:  console,
		Commands: commands,
		History:  history,
		log:      log.Named("ws"),
		hubs:     make(map[string]*managedHub),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return m
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}

func (m *HubManager) GetHub(id string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mh, ok := m.hubs[id]; ok {
		return mh.hub
	}

	hub := newHub(id, m)
	go hub.Run()
	sub := m.Bus.Subscribe(id, hub.Publish)
	m.hubs[id] = &managedHub{hub: hub, sub: sub}
	return hub
}

func (m *HubManager) RemoveHub(id string) {
	m.mu.Lock()
	mh, ok := m.hubs[id]
	delete(m.hubs, id)
	m.mu.Unlock()

	if ok {
		mh.sub.Cancel()
		mh.hub.Stop()
	}
}

func (m *HubManager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.hubs))
	for id := range m.hubs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.RemoveHub(id)
	}
}

// ServeWs upgrades the request and attaches the client to the hub of
// connection id. The caller has already checked that id exists.
func (m *HubManager) ServeWs(w http.ResponseWriter, r *http.Request, id string) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Debugw("websocket upgrade failed", "connection", id, "error", err)
		return
	}

	hub := m.GetHub(id)
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
	if !hub.join(client) {
		conn.Close()
		return
	}
	m.log.Debugw("websocket client connected", "connection", id)

	go client.writePump()
	go client.readPump()
}
