package install

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"garrison/internal/domain"

	"go.uber.org/zap"
)

const steamCMDScript = "steamcmd.sh"

// Bootstrap keeps a local copy of steamcmd under the runtimes directory.
type Bootstrap struct {
	RuntimesPath string
	URL          string
	// Path overrides the managed copy when set.
	Path   string
	Client *http.Client

	mu  sync.Mutex
	log *zap.SugaredLogger
}

func NewBootstrap(runtimesPath, url, path string, log *zap.SugaredLogger) *Bootstrap {
	return &Bootstrap{RuntimesPath: runtimesPath, URL: url, Path: path, Client: http.DefaultClient, log: log.Named("steamcmd")}
}

// EnsureSteamCMD returns the path of a usable steamcmd, downloading and
// unpacking it first when it is missing.
func (b *Bootstrap) EnsureSteamCMD(ctx context.Context, onProgress func(domain.ProgressEvent)) (string, error) {
	if b.Path != "" {
		return b.Path, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	installDir, err := filepath.Abs(filepath.Join(b.RuntimesPath, "steamcmd"))
	if err != nil {
		return "", fmt.Errorf("could not get absolute path: %w", err)
	}
	target := filepath.Join(installDir, steamCMDScript)
	if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
		return target, nil
	}

	b.log.Infow("steamcmd not detected, downloading", "url", b.URL)
	if err := os.MkdirAll(installDir, 0755); err != nil {
		return "", err
	}
	if err := b.download(ctx, installDir, onProgress); err != nil {
		return "", err
	}

	if _, err := os.Stat(target); err != nil {
		return "", fmt.Errorf("%s not found after installation", steamCMDScript)
	}
	_ = os.Chmod(target, 0755)
	return target, nil
}

func (b *Bootstrap) download(ctx context.Context, destDir string, onProgress func(domain.ProgressEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL, nil)
	if err != nil {
		return err
	}
	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("steamcmd download failed: %s", resp.Status)
	}

	reader := &ProgressReader{
		Reader:     resp.Body,
		Total:      resp.ContentLength,
		Message:    "Downloading SteamCMD",
		OnProgress: onProgress,
	}
	if err := Untar(reader, destDir); err != nil {
		return fmt.Errorf("untar error: %w", err)
	}
	return nil
}

// Untar unpacks a gzip compressed tarball into dest. Entries escaping dest
// are rejected.
func Untar(r io.Reader, dest string) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gr.Close()

	root := filepath.Clean(dest) + string(os.PathSeparator)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		target := filepath.Join(dest, hdr.Name)
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("illegal path in archive: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}
