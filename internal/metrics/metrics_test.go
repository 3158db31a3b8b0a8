package metrics

import (
	"testing"
	"time"

	"garrison/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveStatus(t *testing.T) {
	r := NewRecorder()
	before := counterValue(t, StateTransitions.WithLabelValues("RUNNING"))

	r.Observe(domain.Event{ConnectionID: "m1", Kind: domain.EventStatus, State: domain.StateRunning, Previous: domain.StateStarting})
	if got := gaugeValue(t, ServerState.WithLabelValues("m1")); got != 4 {
		t.Errorf("Expected state gauge 4, got %v", got)
	}
	if got := counterValue(t, StateTransitions.WithLabelValues("RUNNING")); got != before+1 {
		t.Errorf("Expected one more transition, got %v", got-before)
	}

	r.Observe(domain.Event{ConnectionID: "m1", Kind: domain.EventStatus, State: domain.StateRunning, Status: &domain.ProcessStatus{
		CPU: 37.5, Memory: 4096, Players: 12, Uptime: 90 * time.Second,
	}})
	if got := gaugeValue(t, ServerCPUPercent.WithLabelValues("m1")); got != 37.5 {
		t.Errorf("Expected cpu 37.5, got %v", got)
	}
	if got := gaugeValue(t, ServerPlayers.WithLabelValues("m1")); got != 12 {
		t.Errorf("Expected 12 players, got %v", got)
	}
	if got := gaugeValue(t, ServerUptime.WithLabelValues("m1")); got != 90 {
		t.Errorf("Expected uptime 90, got %v", got)
	}
	if got := counterValue(t, StateTransitions.WithLabelValues("RUNNING")); got != before+1 {
		t.Errorf("Expected poll snapshots not to count as transitions")
	}
}

func TestObserveInstallAndRcon(t *testing.T) {
	r := NewRecorder()
	r.Observe(domain.Event{ConnectionID: "m2", Kind: domain.EventInstall, Install: &domain.InstallProgress{Status: domain.PhaseExtracting, Progress: 90}})
	if got := gaugeValue(t, InstallProgress.WithLabelValues("m2")); got != 90 {
		t.Errorf("Expected install progress 90, got %v", got)
	}

	before := counterValue(t, RconCommands.WithLabelValues("rejected"))
	r.RconCommand("rejected")
	if got := counterValue(t, RconCommands.WithLabelValues("rejected")); got != before+1 {
		t.Errorf("Expected rejected counter to grow by one")
	}
}

func TestStateToFloat(t *testing.T) {
	if StateToFloat(domain.StateError) != 7 || StateToFloat(domain.State("bogus")) != -1 {
		t.Error("Unexpected state mapping")
	}
}
