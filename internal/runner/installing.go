package runner

import (
	"context"
	"time"

	"garrison/internal/domain"
	"garrison/internal/install"
)

// Install starts an install or update in the background. A second request
// for the same connection fails with a conflict until the first finishes.
func (s *Supervisor) Install(ctx context.Context, id string) (*domain.InstallProgress, error) {
	inst, err := s.instance(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.claim(inst, func(st domain.State) error {
		switch st {
		case domain.StateNotInstalled, domain.StateStopped, domain.StateError:
			return nil
		case domain.StateInstalling:
			return domain.Conflict("an install is already in progress")
		default:
			return domain.InvalidState("cannot install while the server is %s", st)
		}
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	inst.mu.Lock()
	inst.installGen++
	gen := inst.installGen
	inst.cancelInstall = cancel
	inst.install = &domain.InstallProgress{
		ConnectionID: id,
		Status:       domain.PhaseDownloading,
		Message:      "Queued",
		UpdatedAt:    time.Now(),
	}
	first := *inst.install
	req := install.Request{Connection: inst.conn, Target: inst.target}
	s.setState(inst, domain.StateInstalling, "install started")
	inst.pending = false
	inst.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runInstall(runCtx, inst, gen, req)
	}()

	return &first, nil
}

func (s *Supervisor) runInstall(ctx context.Context, inst *instance, gen int, req install.Request) {
	onProgress := func(p domain.InstallProgress) {
		inst.mu.Lock()
		defer inst.mu.Unlock()
		if inst.installGen != gen {
			return
		}
		cp := p
		inst.install = &cp
		s.Bus.Publish(inst.id, domain.Event{Kind: domain.EventInstall, Install: &cp, Message: p.Message})
	}
	onOutput := func(line string) {
		s.appendConsole(inst, line)
	}

	err := s.Installer.Run(ctx, req, onProgress, onOutput)

	inst.mu.Lock()
	if inst.installGen == gen {
		inst.cancelInstall = nil
		if err != nil {
			s.setState(inst, domain.StateError, err.Error())
		} else {
			s.setState(inst, domain.StateStopped, "install complete")
		}
	}
	inst.mu.Unlock()

	time.AfterFunc(s.opts.InstallDisplay, func() {
		inst.mu.Lock()
		defer inst.mu.Unlock()
		if inst.installGen == gen {
			inst.install = nil
		}
	})
}
