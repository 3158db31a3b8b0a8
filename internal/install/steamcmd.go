package install

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"garrison/internal/domain"
	"garrison/internal/shell"

	"go.uber.org/zap"
)

var (
	steamStateRegex   = regexp.MustCompile(`Update state \(0x[0-9a-fA-F]+\) ([a-z ]+), progress: ([0-9.]+)`)
	steamErrorRegex   = regexp.MustCompile(`ERROR! (.+)`)
	steamSuccessRegex = regexp.MustCompile(`Success! App '\d+' fully installed`)
)

// SteamCMD fetches the dedicated server through steamcmd running on the
// target itself.
type SteamCMD struct {
	AppID string
	// Path to steamcmd on remote targets. Empty means "steamcmd" on PATH.
	RemotePath string
	Bootstrap  *Bootstrap
	log        *zap.SugaredLogger
}

func NewSteamCMD(appID, remotePath string, bootstrap *Bootstrap, log *zap.SugaredLogger) *SteamCMD {
	return &SteamCMD{AppID: appID, RemotePath: remotePath, Bootstrap: bootstrap, log: log.Named("steamcmd")}
}

func (s *SteamCMD) Fetch(ctx context.Context, req Request, sink Sink) error {
	bin, err := s.binary(ctx, req.Connection, sink)
	if err != nil {
		return err
	}

	spec := shell.LaunchSpec{
		Binary: bin,
		Args: []string{
			"+force_install_dir", req.Connection.InstallPath,
			"+login", "anonymous",
			"+app_update", s.AppID, "validate",
			"+quit",
		},
		Dir: req.Connection.InstallPath,
	}
	s.log.Infow("running steamcmd", "connection", req.Connection.ID, "app", s.AppID)

	var steamErr string
	succeeded := false
	err = shell.Stream(ctx, req.Target, spec, func(line string) {
		sink.output(line)
		if m := steamErrorRegex.FindStringSubmatch(line); m != nil {
			steamErr = m[1]
			return
		}
		if steamSuccessRegex.MatchString(line) {
			succeeded = true
			return
		}
		if phase, pct, ok := ParseSteamProgress(line); ok {
			sink.progress(phase, pct, describePhase(phase, pct))
		}
	})

	if steamErr != "" {
		return fmt.Errorf("steamcmd: %s", steamErr)
	}
	if err != nil {
		if code, ok := shell.ExitCode(err); ok && code != 0 && succeeded {
			// steamcmd exits with 7 after "+quit" on some builds
			s.log.Warnw("steamcmd exited non-zero after success", "code", code)
			return nil
		}
		return fmt.Errorf("steamcmd: %w", err)
	}
	return nil
}

func (s *SteamCMD) binary(ctx context.Context, conn domain.Connection, sink Sink) (string, error) {
	if conn.IsRemote() {
		if s.RemotePath != "" {
			return s.RemotePath, nil
		}
		return "steamcmd", nil
	}
	if s.Bootstrap == nil {
		return "", errors.New("steamcmd is not available")
	}
	return s.Bootstrap.EnsureSteamCMD(ctx, func(ev domain.ProgressEvent) {
		// the bootstrap download fills the first tenth of the bar
		sink.progress(domain.PhaseDownloading, ev.Progress/10, "Downloading SteamCMD")
	})
}

// ParseSteamProgress reads an "Update state" line. Download states map to the
// downloading phase, verifying an update and committing to extracting.
// "verifying install" runs before the download on updates, so it stays in
// downloading at zero.
func ParseSteamProgress(line string) (domain.InstallPhase, float64, bool) {
	m := steamStateRegex.FindStringSubmatch(line)
	if m == nil {
		return "", 0, false
	}
	pct, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return "", 0, false
	}

	state := strings.TrimSpace(m[1])
	switch {
	case strings.HasPrefix(state, "verifying update"), strings.HasPrefix(state, "committing"):
		return domain.PhaseExtracting, pct, true
	case strings.HasPrefix(state, "downloading"), strings.HasPrefix(state, "preallocating"),
		strings.HasPrefix(state, "reconfiguring"), strings.HasPrefix(state, "verifying install"):
		if !strings.HasPrefix(state, "downloading") {
			pct = 0
		}
		return domain.PhaseDownloading, pct, true
	}
	return "", 0, false
}

func describePhase(phase domain.InstallPhase, pct float64) string {
	switch phase {
	case domain.PhaseExtracting:
		return fmt.Sprintf("Verifying files (%.0f%%)", pct)
	default:
		return fmt.Sprintf("Downloading server files (%.1f%%)", pct)
	}
}
