package connection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"garrison/internal/domain"
	"garrison/internal/install"
	"garrison/internal/shell"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultSSHPort = 22

// Servers is the part of the supervisor that cares about connection
// changes.
type Servers interface {
	InUse(id string) bool
	Forget(ctx context.Context, id string) error
	Refresh(ctx context.Context, id string) error
}

type Registry struct {
	Store        domain.ConnectionRepository
	Servers      Servers
	OpenTarget   func(conn domain.Connection) shell.Target
	ServersPath  string
	ServerBinary string
	TestTimeout  time.Duration
	log          *zap.SugaredLogger
}

func NewRegistry(store domain.ConnectionRepository, servers Servers, open func(domain.Connection) shell.Target, serversPath, serverBinary string, testTimeout time.Duration, log *zap.SugaredLogger) *Registry {
	if testTimeout <= 0 {
		testTimeout = 10 * time.Second
	}
	return &Registry{
		Store:        store,
		Servers:      servers,
		OpenTarget:   open,
		ServersPath:  serversPath,
		ServerBinary: serverBinary,
		TestTimeout:  testTimeout,
		log:          log.Named("connections"),
	}
}

var folderUnsafe = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func sanitizeFolderName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), " ", "_")
	sanitized := folderUnsafe.ReplaceAllString(name, "")
	sanitized = strings.Trim(sanitized, ".")
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	return sanitized
}

func (r *Registry) List(ctx context.Context) ([]domain.Connection, error) {
	return r.Store.ListConnections(ctx)
}

func (r *Registry) Get(ctx context.Context, id string) (*domain.Connection, error) {
	conn, err := r.Store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, domain.NotFound("connection %s not found", id)
	}
	return conn, nil
}

// Add validates and stores a new connection. Local connections without an
// install path get a folder under the servers directory.
func (r *Registry) Add(ctx context.Context, def domain.ConnectionDefinition) (*domain.Connection, error) {
	conn := &domain.Connection{ID: uuid.New().String(), Type: domain.ConnectionLocal}
	def.Apply(conn)

	derived := false
	if conn.Type == domain.ConnectionLocal && conn.InstallPath == "" && r.ServersPath != "" {
		if folder := sanitizeFolderName(conn.Name); folder != "" {
			conn.InstallPath = filepath.Join(r.ServersPath, folder)
			derived = true
		}
	}
	if conn.Type == domain.ConnectionRemote && conn.Port == 0 {
		conn.Port = defaultSSHPort
	}

	if err := r.validate(ctx, conn); err != nil {
		return nil, err
	}

	if derived {
		if err := os.MkdirAll(conn.InstallPath, 0755); err != nil {
			return nil, fmt.Errorf("filesystem error: %w", err)
		}
	}
	if err := r.Store.CreateConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("error saving connection: %w", err)
	}
	r.log.Infow("connection added", "connection", conn.ID, "name", conn.Name, "type", conn.Type)
	return conn, nil
}

// Update applies a partial definition. Changing where or how the server is
// reached is refused while the server is in use.
func (r *Registry) Update(ctx context.Context, id string, def domain.ConnectionDefinition) (*domain.Connection, error) {
	conn, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *conn
	def.Apply(conn)
	if conn.Type == domain.ConnectionRemote && conn.Port == 0 {
		conn.Port = defaultSSHPort
	}

	if movesTarget(before, *conn) && r.Servers != nil && r.Servers.InUse(id) {
		return nil, domain.Conflict("connection %s is in use; stop the server before changing how it is reached", before.Name)
	}
	if err := r.validate(ctx, conn); err != nil {
		return nil, err
	}
	if err := r.Store.UpdateConnection(ctx, conn); err != nil {
		return nil, err
	}
	if r.Servers != nil {
		if err := r.Servers.Refresh(ctx, id); err != nil {
			r.log.Warnw("error refreshing server instance", "connection", id, "error", err)
		}
	}
	r.log.Infow("connection updated", "connection", id)
	return r.Get(ctx, id)
}

func movesTarget(a, b domain.Connection) bool {
	return a.Type != b.Type || a.Host != b.Host || a.Port != b.Port || a.Username != b.Username ||
		a.Password != b.Password || a.PrivateKey != b.PrivateKey || a.InstallPath != b.InstallPath
}

// Remove deletes the connection with its mods and config. A server in use
// is only torn down when force is set.
func (r *Registry) Remove(ctx context.Context, id string, force bool) error {
	conn, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Servers != nil {
		if r.Servers.InUse(id) && !force {
			return domain.Conflict("server of connection %s is running; stop it first or remove with force", conn.Name)
		}
		if err := r.Servers.Forget(ctx, id); err != nil {
			return fmt.Errorf("error stopping server: %w", err)
		}
	}
	if err := r.Store.DeleteConnection(ctx, id); err != nil {
		return err
	}
	r.log.Infow("connection removed", "connection", id, "name", conn.Name, "forced", force)
	return nil
}

func (r *Registry) SetDefault(ctx context.Context, id string) error {
	if err := r.Store.SetDefaultConnection(ctx, id); err != nil {
		return err
	}
	r.log.Infow("default connection changed", "connection", id)
	return nil
}

// Test checks the connection within the test timeout and records the
// outcome on the connection. A failed check is a result, not an error, except
// for a timeout which is recorded and then returned as TimeoutError.
func (r *Registry) Test(ctx context.Context, id string) (domain.TestResult, error) {
	conn, err := r.Get(ctx, id)
	if err != nil {
		return domain.TestResult{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, r.TestTimeout)
	defer cancel()

	target := r.OpenTarget(*conn)
	defer target.Close()

	started := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- r.check(pctx, target, *conn)
	}()

	var checkErr error
	select {
	case checkErr = <-done:
	case <-pctx.Done():
		checkErr = pctx.Err()
	}

	result := domain.TestResult{ConnectionID: id, OK: checkErr == nil, Latency: time.Since(started)}
	timedOut := errors.Is(checkErr, context.DeadlineExceeded) || domain.IsKind(checkErr, domain.KindTimeout)
	switch {
	case checkErr == nil:
		result.Message = "connection ok"
	case timedOut:
		result.Message = fmt.Sprintf("connection test timed out after %s", r.TestTimeout)
	default:
		result.Message = checkErr.Error()
	}

	if err := r.Store.RecordTestResult(ctx, id, result.OK, result.Message, time.Now()); err != nil {
		r.log.Warnw("error recording test result", "connection", id, "error", err)
	}
	r.log.Infow("connection tested", "connection", id, "ok", result.OK, "latency", result.Latency, "message", result.Message)
	if timedOut {
		// the outcome is recorded; the caller still gets the timeout kind
		return result, domain.Wrap(domain.KindTimeout, checkErr, "%s", result.Message)
	}
	return result, nil
}

func (r *Registry) check(ctx context.Context, target shell.Target, conn domain.Connection) error {
	if conn.IsRemote() {
		out, err := target.Run(ctx, shell.LaunchSpec{Binary: "echo", Args: []string{"ok"}})
		if err != nil {
			return fmt.Errorf("remote shell failed: %w", err)
		}
		if strings.TrimSpace(string(out)) != "ok" {
			return fmt.Errorf("unexpected reply from remote shell: %q", strings.TrimSpace(string(out)))
		}
	}

	fs, err := target.FS(ctx)
	if err != nil {
		return fmt.Errorf("error opening filesystem: %w", err)
	}
	info, err := fs.Stat(conn.InstallPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("install path %s does not exist", conn.InstallPath)
		}
		return fmt.Errorf("error reading install path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("install path %s is not a directory", conn.InstallPath)
	}

	binary := r.binaryName(conn)
	if binary == "" {
		return nil
	}
	bin, err := fs.Stat(install.BinaryPath(fs, conn.InstallPath, binary))
	if err != nil {
		// not installed yet
		return nil
	}
	if bin.IsDir() {
		return fmt.Errorf("server binary %s is a directory", binary)
	}
	if !(conn.Type == domain.ConnectionLocal && runtime.GOOS == "windows") && bin.Mode()&0111 == 0 {
		return fmt.Errorf("server binary %s is not executable", binary)
	}
	return nil
}

func (r *Registry) binaryName(conn domain.Connection) string {
	if r.ServerBinary == "" {
		return ""
	}
	if !conn.IsRemote() && runtime.GOOS == "windows" && !strings.HasSuffix(r.ServerBinary, ".exe") {
		return r.ServerBinary + ".exe"
	}
	return r.ServerBinary
}

func (r *Registry) validate(ctx context.Context, conn *domain.Connection) error {
	var fields []domain.FieldError
	add := func(field, msg string) {
		fields = append(fields, domain.FieldError{Field: field, Message: msg})
	}

	switch {
	case conn.Name == "":
		add("name", "is required")
	case len(conn.Name) > 100:
		add("name", "must be at most 100 characters")
	default:
		existing, err := r.Store.GetConnectionByName(ctx, conn.Name)
		if err != nil {
			return fmt.Errorf("error checking connection name: %w", err)
		}
		if existing != nil && existing.ID != conn.ID {
			add("name", fmt.Sprintf("a connection named %q already exists", existing.Name))
		}
	}

	switch conn.Type {
	case domain.ConnectionLocal:
		if conn.InstallPath == "" {
			add("installPath", "is required")
		} else if !filepath.IsAbs(conn.InstallPath) {
			add("installPath", "must be an absolute path")
		}
	case domain.ConnectionRemote:
		if conn.InstallPath == "" {
			add("installPath", "is required")
		} else if !path.IsAbs(conn.InstallPath) {
			add("installPath", "must be an absolute path")
		}
		if conn.Host == "" {
			add("host", "is required for remote connections")
		}
		if conn.Port < 1 || conn.Port > 65535 {
			add("port", "must be between 1 and 65535")
		}
		if conn.Username == "" {
			add("username", "is required for remote connections")
		}
		if !conn.HasCredentials() {
			add("password", "a password or private key is required for remote connections")
		} else if _, err := shell.ClientConfig(*conn, time.Second); err != nil && domain.IsKind(err, domain.KindValidation) {
			add("privateKey", err.Error())
		}
	default:
		add("type", fmt.Sprintf("must be %q or %q", domain.ConnectionLocal, domain.ConnectionRemote))
	}

	if len(fields) > 0 {
		return domain.ValidationFields("invalid connection", fields)
	}
	return nil
}
