package runner

import (
	"sync"

	"garrison/internal/domain"
)

// consoleBuffer keeps the most recent lines of process output.
type consoleBuffer struct {
	mu    sync.Mutex
	lines []domain.LogLine
	start int
	size  int
}

func newConsoleBuffer(max int) *consoleBuffer {
	if max <= 0 {
		max = 200
	}
	return &consoleBuffer{lines: make([]domain.LogLine, max)}
}

func (b *consoleBuffer) Append(line domain.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := (b.start + b.size) % len(b.lines)
	b.lines[idx] = line
	if b.size < len(b.lines) {
		b.size++
	} else {
		b.start = (b.start + 1) % len(b.lines)
	}
}

// Tail returns up to n of the newest lines, oldest first.
func (b *consoleBuffer) Tail(n int) []domain.LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]domain.LogLine, n)
	first := b.start + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.lines[(first+i)%len(b.lines)]
	}
	return out
}

func (b *consoleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start, b.size = 0, 0
}
