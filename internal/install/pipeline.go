package install

import (
	"context"
	"errors"
	"fmt"
	"os"

	"garrison/internal/domain"
	"garrison/internal/serverconfig"
	"garrison/internal/shell"

	"go.uber.org/zap"
)

// Request is one install run for a connection.
type Request struct {
	Connection domain.Connection
	Target     shell.Target
}

// Sink receives the output of a fetcher. Progress uses the fetcher's own
// scale; the pipeline maps it onto the overall run.
type Sink struct {
	Progress func(phase domain.InstallPhase, progress float64, message string)
	Output   func(line string)
}

func (s Sink) progress(phase domain.InstallPhase, progress float64, message string) {
	if s.Progress != nil {
		s.Progress(phase, progress, message)
	}
}

func (s Sink) output(line string) {
	if s.Output != nil {
		s.Output(line)
	}
}

// Fetcher puts the game files into the install path of a target.
type Fetcher interface {
	Fetch(ctx context.Context, req Request, sink Sink) error
}

type Pipeline struct {
	Fetcher      Fetcher
	ServerBinary string
	log          *zap.SugaredLogger
}

func NewPipeline(fetcher Fetcher, serverBinary string, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{Fetcher: fetcher, ServerBinary: serverBinary, log: log.Named("install")}
}

// Run installs or updates the server files. Progress never decreases within
// a run. On failure the last reported progress is kept and the files are
// left as they are.
func (p *Pipeline) Run(ctx context.Context, req Request, onProgress func(domain.InstallProgress), onOutput func(string)) error {
	conn := req.Connection
	t := newTracker(conn.ID, onProgress)

	failed := func(phase string, err error) error {
		msg := fmt.Sprintf("%s failed: %v", phase, err)
		t.fail(msg)
		p.log.Errorw("install failed", "connection", conn.ID, "phase", phase, "progress", t.progress(), "error", err)
		return fmt.Errorf("install %s: %w", phase, err)
	}

	p.log.Infow("install started", "connection", conn.ID, "path", conn.InstallPath)
	t.report(domain.PhaseDownloading, 0, "Preparing download")

	fs, err := req.Target.FS(ctx)
	if err != nil {
		return failed("connect", err)
	}
	if err := fs.MkdirAll(conn.InstallPath); err != nil {
		return failed("prepare", err)
	}

	sink := Sink{Progress: t.report, Output: onOutput}
	if err := p.Fetcher.Fetch(ctx, req, sink); err != nil {
		return failed("download", err)
	}
	t.report(domain.PhaseExtracting, 0, "Unpacking server files")

	t.report(domain.PhaseConfiguring, 0, "Writing default configuration")
	if err := p.configure(fs, conn.InstallPath); err != nil {
		return failed("configure", err)
	}

	t.report(domain.PhaseValidating, 0, "Validating installation")
	if err := checkBinary(fs, BinaryPath(fs, conn.InstallPath, p.ServerBinary)); err != nil {
		return failed("validate", err)
	}

	t.report(domain.PhaseComplete, 100, "Installation complete")
	p.log.Infow("install complete", "connection", conn.ID)
	return nil
}

func (p *Pipeline) configure(fs shell.FileSystem, installPath string) error {
	if err := fs.MkdirAll(fs.Join(installPath, configDirName)); err != nil {
		return err
	}
	if err := fs.MkdirAll(LogsDir(fs, installPath)); err != nil {
		return err
	}

	cfgPath := ConfigPath(fs, installPath)
	if _, err := fs.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		data, err := serverconfig.Render(domain.DefaultServerConfig(), nil)
		if err != nil {
			return err
		}
		if err := fs.WriteFile(cfgPath, data, 0644); err != nil {
			return err
		}
	}

	bin := BinaryPath(fs, installPath, p.ServerBinary)
	if _, err := fs.Stat(bin); err == nil {
		if err := fs.Chmod(bin, 0755); err != nil {
			return fmt.Errorf("marking %s executable: %w", p.ServerBinary, err)
		}
	}
	return nil
}

func checkBinary(fs shell.FileSystem, path string) error {
	fi, err := fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("server binary %s not found", path)
		}
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("server binary %s is not a regular file", path)
	}
	if fi.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("server binary %s is not executable", path)
	}
	return nil
}
