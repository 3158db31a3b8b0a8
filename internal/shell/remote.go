package shell

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"garrison/internal/domain"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const pidMarker = "__garrison_pid"

type Remote struct {
	conn domain.Connection
	opts Options
	log  *zap.SugaredLogger

	mu     sync.Mutex
	client *ssh.Client
	sftp   *sftp.Client
}

func NewRemote(conn domain.Connection, opts Options) *Remote {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Remote{conn: conn, opts: opts, log: log.With("connection", conn.ID, "host", conn.Host)}
}

// ClientConfig builds the ssh configuration for a remote connection. A
// private key wins over a password. Without a pinned fingerprint the host key
// is accepted as presented.
func ClientConfig(conn domain.Connection, timeout time.Duration) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if strings.TrimSpace(conn.PrivateKey) != "" {
		var signer ssh.Signer
		var err error
		if conn.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(conn.PrivateKey), []byte(conn.Password))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(conn.PrivateKey))
		}
		if err != nil {
			return nil, domain.Wrap(domain.KindValidation, err, "invalid private key")
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else if conn.Password != "" {
		auth = append(auth, ssh.Password(conn.Password))
	}
	if len(auth) == 0 {
		return nil, domain.Validation("remote connection %s has no credentials", conn.Name)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if fp := strings.TrimSpace(conn.HostKeyFingerprint); fp != "" {
		hostKeyCallback = func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if got := ssh.FingerprintSHA256(key); got != fp {
				return fmt.Errorf("host key mismatch for %s: got %s", hostname, got)
			}
			return nil
		}
	}

	return &ssh.ClientConfig{
		User:            conn.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func (r *Remote) address() string {
	port := r.conn.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(r.conn.Host, strconv.Itoa(port))
}

func (r *Remote) sshClient(ctx context.Context) (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		if _, _, err := r.client.SendRequest("keepalive@openssh.com", true, nil); err == nil {
			return r.client, nil
		}
		r.log.Warn("ssh connection lost, reconnecting")
		r.closeLocked()
	}

	config, err := ClientConfig(r.conn, r.opts.DialTimeout)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.opts.DialTimeout)
	defer cancel()

	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", r.address(), config)
		done <- result{c, err}
	}()

	select {
	case <-dialCtx.Done():
		go func() {
			if res := <-done; res.client != nil {
				res.client.Close()
			}
		}()
		return nil, domain.Timeout("ssh connection to %s timed out after %v", r.address(), r.opts.DialTimeout)
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", r.address(), res.err)
		}
		r.client = res.client
		r.log.Debug("ssh connected")
		return res.client, nil
	}
}

// DialContext opens a TCP connection from the remote host, so services bound
// to its loopback are reachable from here.
func (r *Remote) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	client, err := r.sshClient(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("error dialing %s from %s: %w", addr, r.conn.Host, err)
	}
	return conn, nil
}

// Run executes spec through the remote shell and returns combined output.
func (r *Remote) Run(ctx context.Context, spec LaunchSpec) ([]byte, error) {
	return r.runLine(ctx, withDir(spec.Dir, commandLine(spec)))
}

func (r *Remote) runLine(ctx context.Context, line string) ([]byte, error) {
	client, err := r.sshClient(ctx)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CommandTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, domain.Wrap(domain.KindTimeout, ctx.Err(), "remote command timed out")
	case err := <-done:
		return out.Bytes(), err
	}
}

// Start launches spec in a long lived session. The wrapper prints the shell
// pid before exec'ing the binary so the same pid can be signalled later.
func (r *Remote) Start(ctx context.Context, spec LaunchSpec) (Process, error) {
	client, err := r.sshClient(ctx)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	pr, pw := io.Pipe()
	session.Stdout = pw
	session.Stderr = pw

	line := withDir(spec.Dir, fmt.Sprintf("echo %s $$; exec %s", pidMarker, commandLine(spec)))
	if err := session.Start(line); err != nil {
		session.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", path.Base(spec.Binary), err)
	}

	p := &remoteProcess{remote: r, session: session, done: make(chan struct{})}
	go func() {
		err := session.Wait()
		pw.Close()
		session.Close()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()

	reader := bufio.NewReader(pr)
	pidCh := make(chan int, 1)
	go func() {
		first, _ := reader.ReadString('\n')
		fields := strings.Fields(first)
		if len(fields) == 2 && fields[0] == pidMarker {
			if pid, err := strconv.Atoi(fields[1]); err == nil {
				pidCh <- pid
				return
			}
		}
		pidCh <- 0
	}()

	select {
	case pid := <-pidCh:
		if pid == 0 {
			_ = session.Signal(ssh.SIGKILL)
			select {
			case <-p.done:
			case <-time.After(r.opts.CommandTimeout):
				session.Close()
			}
			return nil, fmt.Errorf("remote start of %s failed: %v", path.Base(spec.Binary), p.ExitErr())
		}
		p.pid = pid
	case <-time.After(r.opts.CommandTimeout):
		_ = session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, domain.Timeout("remote start of %s timed out", path.Base(spec.Binary))
	}

	p.out = reader
	return p, nil
}

func (r *Remote) FS(ctx context.Context) (FileSystem, error) {
	client, err := r.sshClient(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sftp == nil {
		sc, err := sftp.NewClient(client)
		if err != nil {
			return nil, fmt.Errorf("failed to create SFTP client: %w", err)
		}
		r.sftp = sc
	}
	return sftpFS{r.sftp}, nil
}

// Usage reads cpu, rss (KiB) and elapsed seconds from ps on the remote host.
func (r *Remote) Usage(ctx context.Context, pid int) (domain.ResourceUsage, error) {
	out, err := r.runLine(ctx, fmt.Sprintf("ps -o %%cpu=,rss=,etimes= -p %d", pid))
	if err != nil {
		return domain.ResourceUsage{}, err
	}
	return parsePS(string(out))
}

func parsePS(out string) (domain.ResourceUsage, error) {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return domain.ResourceUsage{}, fmt.Errorf("unexpected ps output %q", strings.TrimSpace(out))
	}
	cpu, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return domain.ResourceUsage{}, err
	}
	rss, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return domain.ResourceUsage{}, err
	}
	secs, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return domain.ResourceUsage{}, err
	}
	return domain.ResourceUsage{CPU: cpu, Memory: rss * 1024, Uptime: time.Duration(secs) * time.Second}, nil
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	return nil
}

func (r *Remote) closeLocked() {
	if r.sftp != nil {
		r.sftp.Close()
		r.sftp = nil
	}
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

func withDir(dir, line string) string {
	if dir == "" {
		return line
	}
	return "cd " + Quote(dir) + " && " + line
}

type remoteProcess struct {
	remote  *Remote
	session *ssh.Session
	pid     int
	out     io.Reader
	done    chan struct{}
	mu      sync.Mutex
	exitErr error
}

func (p *remoteProcess) PID() int { return p.pid }
func (p *remoteProcess) Output() io.Reader { return p.out }
func (p *remoteProcess) Done() <-chan struct{} { return p.done }

func (p *remoteProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *remoteProcess) Terminate() error { return p.signal("TERM") }
func (p *remoteProcess) Kill() error { return p.signal("KILL") }

func (p *remoteProcess) signal(sig string) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.remote.opts.CommandTimeout)
	defer cancel()
	out, err := p.remote.runLine(ctx, fmt.Sprintf("kill -%s %d", sig, p.pid))
	if err != nil {
		return fmt.Errorf("kill -%s %d: %w (%s)", sig, p.pid, err, strings.TrimSpace(string(out)))
	}
	return nil
}

type sftpFS struct {
	c *sftp.Client
}

func (f sftpFS) Stat(p string) (os.FileInfo, error) { return f.c.Stat(p) }
func (f sftpFS) ReadDir(p string) ([]os.FileInfo, error) { return f.c.ReadDir(p) }

func (f sftpFS) Open(p string) (File, error) {
	file, err := f.c.Open(p)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (f sftpFS) WriteFile(p string, data []byte, perm os.FileMode) error {
	file, err := f.c.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return f.c.Chmod(p, perm)
}

func (f sftpFS) MkdirAll(p string) error { return f.c.MkdirAll(p) }
func (f sftpFS) Chmod(p string, mode os.FileMode) error { return f.c.Chmod(p, mode) }
func (f sftpFS) Join(elem ...string) string { return path.Join(elem...) }
