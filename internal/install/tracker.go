package install

import (
	"sync"
	"time"

	"garrison/internal/domain"
)

// maxDownloadProgress keeps the download phase below the fixed phase marks.
const maxDownloadProgress = 88

var phaseFloor = map[domain.InstallPhase]float64{
	domain.PhaseExtracting:  90,
	domain.PhaseConfiguring: 95,
	domain.PhaseValidating:  98,
	domain.PhaseComplete:    100,
}

// tracker turns raw phase reports into a non-decreasing progress stream.
type tracker struct {
	mu      sync.Mutex
	current domain.InstallProgress
	notify  func(domain.InstallProgress)
}

func newTracker(connectionID string, notify func(domain.InstallProgress)) *tracker {
	return &tracker{
		current: domain.InstallProgress{ConnectionID: connectionID, Status: domain.PhaseDownloading},
		notify:  notify,
	}
}

func (t *tracker) report(phase domain.InstallPhase, progress float64, message string) {
	t.mu.Lock()
	if t.current.Finished() {
		t.mu.Unlock()
		return
	}

	if phase == domain.PhaseDownloading {
		if progress > maxDownloadProgress {
			progress = maxDownloadProgress
		}
	} else if floor, ok := phaseFloor[phase]; ok {
		progress = floor
	}
	if progress < t.current.Progress {
		progress = t.current.Progress
		// a late download line must not drag the phase back
		if phase == domain.PhaseDownloading && t.current.Status != domain.PhaseDownloading {
			phase = t.current.Status
		}
	}

	t.current.Status = phase
	t.current.Progress = progress
	if message != "" {
		t.current.Message = message
	}
	t.current.UpdatedAt = time.Now()
	snapshot := t.current
	t.mu.Unlock()

	if t.notify != nil {
		t.notify(snapshot)
	}
}

// fail marks the run as failed and keeps the last progress value.
func (t *tracker) fail(message string) {
	t.mu.Lock()
	if t.current.Finished() {
		t.mu.Unlock()
		return
	}
	t.current.Status = domain.PhaseError
	t.current.Message = message
	t.current.UpdatedAt = time.Now()
	snapshot := t.current
	t.mu.Unlock()

	if t.notify != nil {
		t.notify(snapshot)
	}
}

func (t *tracker) progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Progress
}
