package events

import (
	"fmt"
	"testing"
	"time"

	"garrison/internal/domain"
	"garrison/internal/logger"
)

func collect(t *testing.T, ch <-chan domain.Event, n int) []domain.Event {
	t.Helper()
	var out []domain.Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("Timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestPublishPreservesOrder(t *testing.T) {
	bus := NewBus(logger.Nop())
	defer bus.Close()

	ch := make(chan domain.Event, 1000)
	bus.Subscribe("local-1", func(ev domain.Event) { ch <- ev })

	for i := 0; i < 500; i++ {
		bus.Publish("local-1", domain.Event{Kind: domain.EventConsole, Message: fmt.Sprint(i)})
	}

	got := collect(t, ch, 500)
	for i, ev := range got {
		if ev.Message != fmt.Sprint(i) {
			t.Fatalf("Expected event %d, got %s", i, ev.Message)
		}
		if ev.ConnectionID != "local-1" {
			t.Errorf("Expected connection id to be filled, got %q", ev.ConnectionID)
		}
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	bus := NewBus(logger.Nop())
	defer bus.Close()

	a := make(chan domain.Event, 10)
	b := make(chan domain.Event, 10)
	bus.Subscribe("a", func(ev domain.Event) { a <- ev })
	bus.Subscribe("b", func(ev domain.Event) { b <- ev })

	bus.Publish("a", domain.Event{Message: "for a"})
	got := collect(t, a, 1)
	if got[0].Message != "for a" {
		t.Errorf("Unexpected event %+v", got[0])
	}

	select {
	case ev := <-b:
		t.Errorf("Topic b received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelAndGlobal(t *testing.T) {
	bus := NewBus(logger.Nop())
	defer bus.Close()

	local := make(chan domain.Event, 10)
	all := make(chan domain.Event, 10)
	sub := bus.Subscribe("a", func(ev domain.Event) { local <- ev })
	bus.SubscribeAll(func(ev domain.Event) { all <- ev })

	bus.Publish("a", domain.Event{Message: "1"})
	collect(t, local, 1)
	collect(t, all, 1)

	sub.Cancel()
	bus.Publish("a", domain.Event{Message: "2"})
	bus.Publish("z", domain.Event{Message: "3"})
	// topics dispatch independently, so only membership is checked
	got := collect(t, all, 2)
	byTopic := map[string]string{}
	for _, ev := range got {
		byTopic[ev.ConnectionID] = ev.Message
	}
	if byTopic["a"] != "2" || byTopic["z"] != "3" {
		t.Errorf("Expected one event per topic, got %+v", got)
	}

	select {
	case ev := <-local:
		t.Errorf("Cancelled observer received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPanickingObserverDoesNotStopDispatch(t *testing.T) {
	bus := NewBus(logger.Nop())
	defer bus.Close()

	ch := make(chan domain.Event, 10)
	bus.Subscribe("a", func(ev domain.Event) {
		if ev.Message == "boom" {
			panic("observer failure")
		}
		ch <- ev
	})

	bus.Publish("a", domain.Event{Message: "boom"})
	bus.Publish("a", domain.Event{Message: "after"})

	got := collect(t, ch, 1)
	if got[0].Message != "after" {
		t.Errorf("Expected dispatch to continue, got %+v", got[0])
	}
}
