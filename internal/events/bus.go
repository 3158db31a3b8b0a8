package events

import (
	"sync"
	"time"

	"garrison/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Observer handles one event. Observers of a topic are called one after
// another from that topic's dispatcher, so a topic's events reach every
// observer in publish order.
type Observer func(domain.Event)

type Subscription struct {
	id    string
	topic string
	bus   *Bus
}

func (s *Subscription) ID() string { return s.id }
func (s *Subscription) Topic() string { return s.topic }

// Cancel removes the observer. An event already being dispatched may still
// reach it once.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.unsubscribe(s)
}

type Bus struct {
	log    *zap.SugaredLogger
	mu     sync.Mutex
	topics map[string]*topic
	global map[string]Observer
	closed bool
	wg     sync.WaitGroup
}

type topic struct {
	name      string
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []domain.Event
	observers map[string]Observer
	closed    bool
}

func NewBus(log *zap.SugaredLogger) *Bus {
	return &Bus{
		log:    log.Named("events"),
		topics: make(map[string]*topic),
		global: make(map[string]Observer),
	}
}

// Subscribe registers obs for events published on topic (a connection id).
func (b *Bus) Subscribe(topicName string, obs Observer) *Subscription {
	sub := &Subscription{id: uuid.NewString(), topic: topicName, bus: b}

	t := b.topic(topicName)
	if t == nil {
		return sub
	}
	t.mu.Lock()
	t.observers[sub.id] = obs
	t.mu.Unlock()
	return sub
}

// SubscribeAll registers obs for every topic.
func (b *Bus) SubscribeAll(obs Observer) *Subscription {
	sub := &Subscription{id: uuid.NewString(), bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.global[sub.id] = obs
	}
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	if sub.topic == "" {
		b.mu.Lock()
		delete(b.global, sub.id)
		b.mu.Unlock()
		return
	}

	b.mu.Lock()
	t, ok := b.topics[sub.topic]
	b.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.observers, sub.id)
	t.mu.Unlock()
}

func (b *Bus) Publish(topicName string, ev domain.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.ConnectionID == "" {
		ev.ConnectionID = topicName
	}

	t := b.topic(topicName)
	if t == nil {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.queue = append(t.queue, ev)
	t.mu.Unlock()
	t.cond.Signal()
}

// RemoveTopic stops the topic's dispatcher after it delivered what was
// already queued. Later publishes on the same name start a fresh topic.
func (b *Bus) RemoveTopic(topicName string) {
	b.mu.Lock()
	t, ok := b.topics[topicName]
	delete(b.topics, topicName)
	b.mu.Unlock()
	if ok {
		t.close()
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string]*topic)
	b.mu.Unlock()

	for _, t := range topics {
		t.close()
	}
	b.wg.Wait()
}

func (b *Bus) topic(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if t, ok := b.topics[name]; ok {
		return t
	}
	t := &topic{name: name, observers: make(map[string]Observer)}
	t.cond = sync.NewCond(&t.mu)
	b.topics[name] = t

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatch(t)
	}()
	return t
}

func (t *topic) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cond.Broadcast()
}

func (b *Bus) dispatch(t *topic) {
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.closed {
			t.cond.Wait()
		}
		if len(t.queue) == 0 && t.closed {
			t.mu.Unlock()
			return
		}
		batch := t.queue
		t.queue = nil
		t.mu.Unlock()

		for _, ev := range batch {
			for _, obs := range b.observersOf(t) {
				b.deliver(obs, ev)
			}
		}
	}
}

func (b *Bus) observersOf(t *topic) []Observer {
	t.mu.Lock()
	out := make([]Observer, 0, len(t.observers))
	for _, obs := range t.observers {
		out = append(out, obs)
	}
	t.mu.Unlock()

	b.mu.Lock()
	for _, obs := range b.global {
		out = append(out, obs)
	}
	b.mu.Unlock()
	return out
}

func (b *Bus) deliver(obs Observer, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("observer panicked", "connection", ev.ConnectionID, "kind", ev.Kind, "panic", r)
		}
	}()
	obs(ev)
}
