package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"garrison/internal/domain"

	"github.com/robfig/cron/v3"
)

// StartPolling publishes a status snapshot for every known connection on
// the given cron schedule ("@every 15s").
func (s *Supervisor) StartPolling(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.pollStatus); err != nil {
		return fmt.Errorf("invalid status poll schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	s.log.Infow("status poll scheduled", "spec", spec)
	return nil
}

// pollStatus snapshots every connection concurrently. A connection still
// busy from the previous tick is skipped.
func (s *Supervisor) pollStatus() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		if _, busy := s.polling.LoadOrStore(id, struct{}{}); busy {
			s.log.Debugw("status poll still running, skipping", "connection", id)
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer s.polling.Delete(id)
			s.pollOne(id)
		}(id)
	}
	wg.Wait()
}

func (s *Supervisor) pollOne(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := s.Status(ctx, id)
	if err != nil {
		s.log.Debugw("status poll failed", "connection", id, "error", err)
		return
	}
	s.Bus.Publish(id, domain.Event{Kind: domain.EventStatus, State: st.State, Status: &st})
}
