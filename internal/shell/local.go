package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"garrison/internal/domain"

	"github.com/shirou/gopsutil/v3/process"
)

type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Run(ctx context.Context, spec LaunchSpec) ([]byte, error) {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return out, domain.Wrap(domain.KindTimeout, ctx.Err(), "%s timed out", filepath.Base(spec.Binary))
	}
	return out, err
}

func (l *Local) Start(ctx context.Context, spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	prepareCommand(cmd)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", filepath.Base(spec.Binary), err)
	}

	p := &localProcess{cmd: cmd, out: pr, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		pw.Close()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func (l *Local) FS(ctx context.Context) (FileSystem, error) {
	return osFS{}, nil
}

func (l *Local) Usage(ctx context.Context, pid int) (domain.ResourceUsage, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return domain.ResourceUsage{}, err
	}

	var usage domain.ResourceUsage
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		usage.CPU = cpu
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		usage.Memory = mem.RSS
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		usage.Uptime = time.Since(time.UnixMilli(created)).Truncate(time.Second)
	}
	return usage, nil
}

func (l *Local) Close() error {
	return nil
}

type localProcess struct {
	cmd     *exec.Cmd
	out     io.Reader
	done    chan struct{}
	mu      sync.Mutex
	exitErr error
}

func (p *localProcess) PID() int { return p.cmd.Process.Pid }
func (p *localProcess) Output() io.Reader { return p.out }
func (p *localProcess) Done() <-chan struct{} { return p.done }

func (p *localProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *localProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return terminate(p.cmd)
}

func (p *localProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return kill(p.cmd)
}

type osFS struct{}

func (osFS) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (osFS) ReadDir(path string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (osFS) Open(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (osFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (osFS) MkdirAll(path string) error { return os.MkdirAll(path, 0755) }

func (osFS) Chmod(path string, mode os.FileMode) error { return os.Chmod(path, mode) }

func (osFS) Join(elem ...string) string { return filepath.Join(elem...) }
