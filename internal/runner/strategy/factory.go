package strategy

import (
	"runtime"
	"strings"

	"garrison/internal/domain"
)

const defaultBinary = "ArmaReforgerServer"

// GetRunner returns the launcher for a connection. Local Windows hosts run
// the .exe build of the server.
func GetRunner(conn domain.Connection, opts Options) ServerRunner {
	binary := opts.Binary
	if binary == "" {
		binary = defaultBinary
	}
	if !conn.IsRemote() && runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(binary), ".exe") {
		binary += ".exe"
	}

	return &ReforgerRunner{
		Executable: binary,
		MaxFPS:     opts.MaxFPS,
		Marker:     opts.ReadyMarker,
		LogStatsMs: opts.LogStatsMs,
	}
}
