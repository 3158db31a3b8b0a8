package logs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"garrison/internal/domain"
	"garrison/internal/events"
	"garrison/internal/install"
	"garrison/internal/shell"

	"go.uber.org/zap"
)

const (
	DefaultLines = 200
	MaxLines     = 5000

	chunkSize    = 64 * 1024
	maxTailBytes = 8 * 1024 * 1024
)

type TargetSource interface {
	Target(ctx context.Context, id string) (shell.Target, domain.Connection, error)
}

type ConsoleSource interface {
	ConsoleSnapshot(ctx context.Context, id string, n int) ([]domain.LogLine, error)
}

// Streamer exposes the log files a server writes under its profile
// directory and the live console of the running process.
type Streamer struct {
	Targets TargetSource
	Console ConsoleSource
	Bus     *events.Bus
	log     *zap.SugaredLogger
}

func NewStreamer(targets TargetSource, console ConsoleSource, bus *events.Bus, log *zap.SugaredLogger) *Streamer {
	return &Streamer{Targets: targets, Console: console, Bus: bus, log: log.Named("logs")}
}

func (s *Streamer) fs(ctx context.Context, id string) (shell.FileSystem, domain.Connection, error) {
	target, conn, err := s.Targets.Target(ctx, id)
	if err != nil {
		return nil, conn, err
	}
	fs, err := target.FS(ctx)
	if err != nil {
		return nil, conn, fmt.Errorf("error opening target filesystem: %w", err)
	}
	return fs, conn, nil
}

// ListLogDirectories returns the per-session log directories, newest first.
func (s *Streamer) ListLogDirectories(ctx context.Context, id string) ([]domain.LogDirectory, error) {
	fs, conn, err := s.fs(ctx, id)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(install.LogsDir(fs, conn.InstallPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.LogDirectory{}, nil
		}
		return nil, fmt.Errorf("error listing log directories: %w", err)
	}

	dirs := make([]domain.LogDirectory, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirs = append(dirs, domain.LogDirectory{Name: e.Name(), ModifiedAt: e.ModTime()})
	}
	sort.Slice(dirs, func(i, j int) bool {
		if !dirs[i].ModifiedAt.Equal(dirs[j].ModifiedAt) {
			return dirs[i].ModifiedAt.After(dirs[j].ModifiedAt)
		}
		return dirs[i].Name > dirs[j].Name
	})
	return dirs, nil
}

func (s *Streamer) ListLogFiles(ctx context.Context, id, dir string) ([]domain.LogFile, error) {
	if err := validName("directory", dir); err != nil {
		return nil, err
	}
	fs, conn, err := s.fs(ctx, id)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(fs.Join(install.LogsDir(fs, conn.InstallPath), dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.NotFound("log directory %s not found", dir)
		}
		return nil, fmt.Errorf("error listing log files: %w", err)
	}

	files := make([]domain.LogFile, 0, len(entries))
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		files = append(files, domain.LogFile{Name: e.Name(), Size: e.Size(), ModifiedAt: e.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// ReadLogFile returns the last maxLines lines of a log file. Only the tail
// of the file is read.
func (s *Streamer) ReadLogFile(ctx context.Context, id, dir, file string, maxLines int) ([]domain.LogLine, error) {
	if err := validName("directory", dir); err != nil {
		return nil, err
	}
	if err := validName("file", file); err != nil {
		return nil, err
	}
	maxLines = ClampLines(maxLines)

	fs, conn, err := s.fs(ctx, id)
	if err != nil {
		return nil, err
	}

	full := fs.Join(install.LogsDir(fs, conn.InstallPath), dir, file)
	f, err := fs.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.NotFound("log file %s/%s not found", dir, file)
		}
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, domain.Validation("%s is a directory", file)
	}

	texts, err := Tail(f, info.Size(), maxLines)
	if err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}
	lines := make([]domain.LogLine, len(texts))
	for i, t := range texts {
		lines[i] = domain.NewLogLine(t, info.ModTime())
	}
	return lines, nil
}

func (s *Streamer) TailConsole(ctx context.Context, id string, maxLines int) ([]domain.LogLine, error) {
	return s.Console.ConsoleSnapshot(ctx, id, ClampLines(maxLines))
}

// Subscribe delivers console batches of one connection to observer in the
// order the process wrote them.
func (s *Streamer) Subscribe(ctx context.Context, id string, observer func([]domain.LogLine)) (*events.Subscription, error) {
	if _, _, err := s.Targets.Target(ctx, id); err != nil {
		return nil, err
	}
	return s.Bus.Subscribe(id, func(ev domain.Event) {
		if ev.Kind == domain.EventConsole && len(ev.Lines) > 0 {
			observer(ev.Lines)
		}
	}), nil
}

func (s *Streamer) Unsubscribe(sub *events.Subscription) {
	if sub != nil {
		sub.Cancel()
	}
}

func ClampLines(n int) int {
	switch {
	case n <= 0:
		return DefaultLines
	case n > MaxLines:
		return MaxLines
	}
	return n
}

func validName(kind, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return domain.ValidationFields("invalid path", []domain.FieldError{{Field: kind, Message: fmt.Sprintf("%q is not a valid %s name", name, kind)}})
	}
	return nil
}

// Tail reads backwards from the end of r in fixed chunks until it has seen
// maxLines complete lines or read maxTailBytes.
func Tail(r io.ReadSeeker, size int64, maxLines int) ([]string, error) {
	var buf []byte
	offset := size
	newlines := 0

	for offset > 0 && len(buf) < maxTailBytes {
		n := int64(chunkSize)
		if offset < n {
			n = offset
		}
		offset -= n

		chunk := make([]byte, n)
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		newlines += bytes.Count(chunk, []byte{'\n'})
		buf = append(chunk, buf...)

		if newlines > maxLines {
			break
		}
	}

	text := strings.ReplaceAll(string(buf), "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return []string{}, nil
	}
	lines := strings.Split(text, "\n")
	if offset > 0 && len(lines) > 0 {
		// the first line started before the window
		lines = lines[1:]
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, nil
}
