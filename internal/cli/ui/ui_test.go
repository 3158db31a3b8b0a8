package ui

import (
	"strings"
	"testing"
	"time"

	"garrison/internal/domain"
	"garrison/pkg/sdk"
)

func TestFormatBytesShort(t *testing.T) {
	tests := map[int64]string{
		0:               "0B",
		512:             "512.0B",
		2048:            "2.0K",
		3 * 1024 * 1024: "3.0M",
	}
	for in, want := range tests {
		if got := formatBytesShort(in); got != want {
			t.Errorf("formatBytesShort(%d): Expected %s, got %s", in, want, got)
		}
	}
}

func TestFormatUptime(t *testing.T) {
	if got := formatUptime(0); got != "-" {
		t.Errorf("Expected -, got %s", got)
	}
	if got := formatUptime(75 * time.Second); got != "1m15s" {
		t.Errorf("Expected 1m15s, got %s", got)
	}
	if got := formatUptime(2*time.Hour + 5*time.Minute); got != "2h05m" {
		t.Errorf("Expected 2h05m, got %s", got)
	}
}

func TestRenderFrame(t *testing.T) {
	lines := renderFrame(sdk.Frame{Type: "console", Lines: []sdk.LogLine{
		{Text: "first", Severity: domain.SeverityInfo},
		{Text: "BACKEND (E): broken", Severity: domain.SeverityError},
	}})
	if len(lines) != 2 || lines[0] != "first" || !strings.Contains(lines[1], "broken") {
		t.Errorf("Unexpected console rendering %q", lines)
	}

	lines = renderFrame(sdk.Frame{Type: "rcon", Command: "#players", Reply: "1 Alice\n2 Bob\n"})
	if len(lines) != 3 || !strings.Contains(lines[0], "#players") || !strings.Contains(lines[2], "Bob") {
		t.Errorf("Unexpected rcon rendering %q", lines)
	}

	if lines := renderFrame(sdk.Frame{Type: "status", State: "RUNNING"}); len(lines) != 0 {
		t.Errorf("Expected poll snapshots to stay silent, got %q", lines)
	}
	if lines := renderFrame(sdk.Frame{Type: "status", State: "RUNNING", Previous: "STARTING"}); len(lines) != 1 {
		t.Errorf("Expected a transition line, got %q", lines)
	}
}

func TestIsActive(t *testing.T) {
	if !isActive("RESTARTING") || isActive("STOPPED") || isActive("ERROR") {
		t.Error("Unexpected activity classification")
	}
}
