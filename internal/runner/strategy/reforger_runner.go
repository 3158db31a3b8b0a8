package strategy

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"garrison/internal/domain"
	"garrison/internal/install"
	"garrison/internal/serverconfig"
	"garrison/internal/shell"
)

type ReforgerRunner struct {
	Executable string
	MaxFPS     int
	Marker     string
	LogStatsMs int
}

func (r *ReforgerRunner) BinaryName() string {
	return r.Executable
}

func (r *ReforgerRunner) RenderConfig(cfg domain.ServerConfig, mods []domain.Mod) ([]byte, error) {
	return serverconfig.Render(cfg, mods)
}

func (r *ReforgerRunner) ReadyMarker() string {
	return r.Marker
}

func (r *ReforgerRunner) BuildCommand(fs shell.FileSystem, installPath string) (shell.LaunchSpec, error) {
	binFull := install.BinaryPath(fs, installPath, r.Executable)
	if _, err := fs.Stat(binFull); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return shell.LaunchSpec{}, fmt.Errorf("server binary not found at %s", binFull)
		}
		return shell.LaunchSpec{}, fmt.Errorf("error accessing %s: %w", binFull, err)
	}

	args := []string{
		"-config", install.ConfigPath(fs, installPath),
		"-profile", install.ProfileDir(fs, installPath),
	}
	if r.LogStatsMs > 0 {
		args = append(args, "-logStats", strconv.Itoa(r.LogStatsMs))
	}
	if r.MaxFPS > 0 {
		args = append(args, "-maxFPS", strconv.Itoa(r.MaxFPS))
	}

	return shell.LaunchSpec{
		Binary: binFull,
		Args:   args,
		Dir:    installPath,
	}, nil
}
