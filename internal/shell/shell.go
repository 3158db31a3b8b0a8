package shell

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"garrison/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// LaunchSpec describes a command to run on a target.
type LaunchSpec struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
}

func (s LaunchSpec) String() string {
	parts := append([]string{s.Binary}, s.Args...)
	return strings.Join(parts, " ")
}

// Process is a running command. Output yields stdout and stderr merged in
// the order they were written and must be drained by the caller.
type Process interface {
	PID() int
	Output() io.Reader
	Done() <-chan struct{}
	// ExitErr is only meaningful once Done is closed.
	ExitErr() error
	Terminate() error
	Kill() error
}

type File interface {
	io.ReadSeekCloser
	Stat() (os.FileInfo, error)
}

type FileSystem interface {
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (File, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	MkdirAll(path string) error
	Chmod(path string, mode os.FileMode) error
	Join(elem ...string) string
}

// Target is the machine a connection points at.
type Target interface {
	Run(ctx context.Context, spec LaunchSpec) ([]byte, error)
	Start(ctx context.Context, spec LaunchSpec) (Process, error)
	FS(ctx context.Context) (FileSystem, error)
	Usage(ctx context.Context, pid int) (domain.ResourceUsage, error)
	Close() error
}

type Options struct {
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	Log            *zap.SugaredLogger
}

// Open returns the target for a connection. Remote targets dial lazily.
func Open(conn domain.Connection, opts Options) Target {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 15 * time.Second
	}
	if conn.IsRemote() {
		return NewRemote(conn, opts)
	}
	return NewLocal()
}

// Stream runs spec to completion and hands every output line to onLine.
// Cancelling ctx kills the process.
func Stream(ctx context.Context, t Target, spec LaunchSpec, onLine func(string)) error {
	proc, err := t.Start(ctx, spec)
	if err != nil {
		return err
	}

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		ScanLines(proc.Output(), onLine)
	}()

	select {
	case <-proc.Done():
	case <-ctx.Done():
		_ = proc.Kill()
		<-proc.Done()
		<-scanned
		return ctx.Err()
	}
	<-scanned
	return proc.ExitErr()
}

// ScanLines splits r into lines, also on bare carriage returns which
// progress printers use to redraw a line.
func ScanLines(r io.Reader, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanCRLF)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" {
			continue
		}
		onLine(line)
	}
	// keep draining so the writer side never blocks
	_, _ = io.Copy(io.Discard, r)
}

func scanCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ExitCode extracts the exit status from a local or remote wait error.
func ExitCode(err error) (int, bool) {
	if err == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	var sshErr *ssh.ExitError
	if errors.As(err, &sshErr) {
		return sshErr.ExitStatus(), true
	}
	return -1, false
}

// Quote makes s safe to paste into a POSIX shell command line.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@+,%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func commandLine(spec LaunchSpec) string {
	parts := []string{Quote(spec.Binary)}
	for _, a := range spec.Args {
		parts = append(parts, Quote(a))
	}
	line := strings.Join(parts, " ")
	if len(spec.Env) > 0 {
		env := make([]string, 0, len(spec.Env))
		for _, e := range spec.Env {
			env = append(env, Quote(e))
		}
		line = "env " + strings.Join(env, " ") + " " + line
	}
	return line
}
