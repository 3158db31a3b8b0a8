package install

import (
	"context"

	"garrison/internal/shell"
)

const (
	configDirName  = "garrison"
	configFileName = "server.json"
	profileDirName = "profile"
)

func BinaryPath(fs shell.FileSystem, installPath, binary string) string {
	return fs.Join(installPath, binary)
}

// ConfigPath is where the rendered game config lives on the target.
func ConfigPath(fs shell.FileSystem, installPath string) string {
	return fs.Join(installPath, configDirName, configFileName)
}

func ProfileDir(fs shell.FileSystem, installPath string) string {
	return fs.Join(installPath, profileDirName)
}

func LogsDir(fs shell.FileSystem, installPath string) string {
	return fs.Join(installPath, profileDirName, "logs")
}

// IsInstalled reports whether the server binary is present as an executable
// regular file.
func IsInstalled(ctx context.Context, target shell.Target, installPath, binary string) bool {
	fs, err := target.FS(ctx)
	if err != nil {
		return false
	}
	return checkBinary(fs, BinaryPath(fs, installPath, binary)) == nil
}
