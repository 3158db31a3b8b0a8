package domain

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityScript  Severity = "script"
	SeverityBackend Severity = "backend"
	SeverityInfo    Severity = "info"
)

type LogLine struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
}

func NewLogLine(text string, ts time.Time) LogLine {
	return LogLine{Text: text, Timestamp: ts, Severity: ClassifyLine(text)}
}

// ClassifyLine infers a severity from the markers the game writes in front
// of each message ("SCRIPT       : ...", "BACKEND (E): ...").
func ClassifyLine(text string) Severity {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "(E)") || strings.Contains(upper, "ERROR") || strings.Contains(upper, "FATAL"):
		return SeverityError
	case strings.Contains(upper, "(W)") || strings.Contains(upper, "WARNING"):
		return SeverityWarning
	case strings.Contains(upper, "SCRIPT"):
		return SeverityScript
	case strings.Contains(upper, "BACKEND"):
		return SeverityBackend
	default:
		return SeverityInfo
	}
}

type LogDirectory struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

type LogFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}
