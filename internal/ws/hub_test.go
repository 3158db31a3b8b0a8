package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"garrison/internal/domain"
	"garrison/internal/events"
	"garrison/internal/logger"

	"github.com/gorilla/websocket"
)

type fakeConsole struct {
	lines []domain.LogLine
}

func (f *fakeConsole) TailConsole(ctx context.Context, id string, n int) ([]domain.LogLine, error) {
	return f.lines, nil
}

type fakeCommander struct{}

func (fakeCommander) SendCommand(ctx context.Context, id, text string) (string, error) {
	if strings.Contains(text, "shutdown") {
		return "", domain.ValidationFields("command not permitted", nil)
	}
	return "reply to " + text, nil
}

func dial(t *testing.T, m *HubManager) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.ServeWs(w, r, "c1")
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return f
}

func TestSnapshotThenLiveEvents(t *testing.T) {
	bus := events.NewBus(logger.Nop())
	defer bus.Close()
	base := time.Now()
	console := &fakeConsole{lines: []domain.LogLine{
		{Text: "one", Timestamp: base},
		{Text: "two", Timestamp: base.Add(time.Millisecond)},
	}}
	m := NewHubManager(bus, console, fakeCommander{}, 50, nil, logger.Nop())
	defer m.Close()

	conn := dial(t, m)

	snap := readFrame(t, conn)
	if snap.Type != FrameConsole || len(snap.Lines) != 2 || snap.Lines[1].Text != "two" {
		t.Fatalf("Expected console snapshot first, got %+v", snap)
	}

	// "two" is already in the snapshot and must not be repeated
	bus.Publish("c1", domain.Event{Kind: domain.EventConsole, Lines: []domain.LogLine{
		{Text: "two", Timestamp: base.Add(time.Millisecond)},
		{Text: "three", Timestamp: base.Add(2 * time.Millisecond)},
	}})
	bus.Publish("c1", domain.Event{Kind: domain.EventStatus, State: domain.StateRunning, Previous: domain.StateStarting})

	live := readFrame(t, conn)
	if live.Type != FrameConsole || len(live.Lines) != 1 || live.Lines[0].Text != "three" {
		t.Errorf("Expected only the new line, got %+v", live)
	}
	status := readFrame(t, conn)
	if status.Type != FrameStatus || status.State != domain.StateRunning || status.Previous != domain.StateStarting {
		t.Errorf("Expected status frame, got %+v", status)
	}
}

func TestCommandsAreRelayed(t *testing.T) {
	bus := events.NewBus(logger.Nop())
	defer bus.Close()
	m := NewHubManager(bus, &fakeConsole{}, fakeCommander{}, 50, nil, logger.Nop())
	defer m.Close()

	conn := dial(t, m)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("#players")); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if f.Type != FrameRcon || f.Reply != "reply to #players" {
		t.Errorf("Expected rcon reply, got %+v", f)
	}

	msg, _ := json.Marshal(map[string]string{"type": "command", "command": "#shutdown"})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatal(err)
	}
	f = readFrame(t, conn)
	if f.Type != FrameError || f.ErrorKind != domain.KindValidation {
		t.Errorf("Expected validation error frame, got %+v", f)
	}
}

func TestParseCommand(t *testing.T) {
	tests := map[string]string{
		"  #kick 1 ":                       "#kick 1",
		`{"type":"command","content":"x"}`: "x",
		`{"command":"#players"}`:           "#players",
		"{not json":                        "{not json",
	}
	for in, want := range tests {
		if got := parseCommand([]byte(in)); got != want {
			t.Errorf("parseCommand(%q): Expected %q, got %q", in, want, got)
		}
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "http://evil.example")
	if check(r) {
		t.Error("Expected foreign origin to be refused")
	}
	r.Header.Set("Origin", "http://localhost:3000")
	if !check(r) {
		t.Error("Expected allowed origin to pass")
	}
}

func TestRepliesGoThroughHubLoop(t *testing.T) {
	bus := events.NewBus(logger.Nop())
	defer bus.Close()
	m := NewHubManager(bus, &fakeConsole{}, fakeCommander{}, 50, nil, logger.Nop())
	defer m.Close()

	h := m.GetHub("c1")
	c := &Client{hub: h, send: make(chan []byte, 4)}
	if !h.join(c) {
		t.Fatal("Expected client to join")
	}

	c.reply(Frame{Type: FrameRcon, Reply: "first"})
	select {
	case data := <-c.send:
		if !strings.Contains(string(data), "first") {
			t.Errorf("Expected the reply frame, got %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the reply to be delivered")
	}

	m.RemoveHub("c1")
	done := make(chan struct{})
	go func() {
		c.reply(Frame{Type: FrameRcon, Reply: "late"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a late reply to return once the hub stopped")
	}
	// the late frame may still land if the loop picked it before stop
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-c.send:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("Expected the send channel to be closed by the hub")
		}
	}
}
