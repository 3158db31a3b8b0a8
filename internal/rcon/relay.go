package rcon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"garrison/internal/domain"
	"garrison/internal/events"
	"garrison/internal/shell"

	"github.com/gorcon/rcon"
	"go.uber.org/zap"
)

const playersCommand = "#players"

// Conn is one authenticated RCON session.
type Conn interface {
	Execute(command string) (string, error)
	Close() error
}

// Endpoint describes one session to open.
type Endpoint struct {
	Protocol string
	Address  string
	Password string
	Timeout  time.Duration
	// Tunnel, when set, dials Address from the server's host.
	Tunnel TunnelFunc
}

type TunnelFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Conn, error)
}

// Tunneler is a target that can open connections from its own host, such as
// a remote reached over SSH.
type Tunneler interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NetDialer speaks BattlEye RCon itself and Source RCON through gorcon/rcon.
type NetDialer struct{}

func (NetDialer) Dial(ctx context.Context, ep Endpoint) (Conn, error) {
	if ep.Protocol != domain.RconProtocolSource {
		if ep.Tunnel != nil {
			return nil, domain.Validation("battleye rcon cannot be tunnelled")
		}
		return DialBattlEye(ctx, ep.Address, ep.Password, ep.Timeout)
	}
	address := ep.Address
	if ep.Tunnel != nil {
		local, err := forwardOnce(ctx, ep.Tunnel, ep.Address, ep.Timeout)
		if err != nil {
			return nil, err
		}
		address = local
	}
	conn, err := rcon.Dial(address, ep.Password, rcon.SetDialTimeout(ep.Timeout), rcon.SetDeadline(ep.Timeout))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// forwardOnce opens addr through dial and exposes it on a loopback port that
// accepts a single connection within timeout.
func forwardOnce(ctx context.Context, dial TunnelFunc, addr string, timeout time.Duration) (string, error) {
	remote, err := dial(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("error tunnelling to %s: %w", addr, err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = remote.Close()
		return "", err
	}
	_ = ln.(*net.TCPListener).SetDeadline(time.Now().Add(timeout))

	go func() {
		defer ln.Close()
		local, err := ln.Accept()
		if err != nil {
			_ = remote.Close()
			return
		}
		pipe(local, remote)
	}()
	return ln.Addr().String(), nil
}

func pipe(a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go cp(a, b)
	go cp(b, a)
	<-done
	_ = a.Close()
	_ = b.Close()
	<-done
}

type ConfigSource interface {
	Load(ctx context.Context, connectionID string) (domain.ServerConfig, error)
}

// Servers is the part of the supervisor the relay needs.
type Servers interface {
	State(ctx context.Context, id string) (domain.State, error)
	Target(ctx context.Context, id string) (shell.Target, domain.Connection, error)
}

// Recorder receives the outcome of every command.
type Recorder interface {
	RconCommand(result string)
}

// Relay forwards operator commands to a running server. Each connection has
// its own bounded pool of sessions.
type Relay struct {
	Configs  ConfigSource
	Servers  Servers
	Dialer   Dialer
	Protocol string
	Timeout  time.Duration
	Recorder Recorder

	log   *zap.SugaredLogger
	mu    sync.Mutex
	pools map[string]*pool
}

type pool struct {
	key    string
	max    int
	inUse  int
	idle   []Conn
	closed bool
}

func NewRelay(configs ConfigSource, servers Servers, dialer Dialer, timeout time.Duration, log *zap.SugaredLogger) *Relay {
	if dialer == nil {
		dialer = NetDialer{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		Configs: configs,
		Servers: servers,
		Dialer:   dialer,
		Protocol: domain.RconProtocolBattlEye,
		Timeout:  timeout,
		log:      log.Named("rcon"),
		pools:    make(map[string]*pool),
	}
}

// Watch drops a connection's pool as soon as its server leaves RUNNING.
func (r *Relay) Watch(bus *events.Bus) *events.Subscription {
	return bus.SubscribeAll(func(ev domain.Event) {
		if ev.Kind != domain.EventStatus || ev.State == "" || ev.State == domain.StateRunning {
			return
		}
		r.Drop(ev.ConnectionID)
	})
}

// SendCommand executes text on the server of connection id and returns the
// reply.
func (r *Relay) SendCommand(ctx context.Context, id, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		r.record("rejected")
		return "", domain.ValidationFields("command is required", []domain.FieldError{{Field: "command", Message: "must not be empty"}})
	}

	cfg, target, conn, err := r.prepare(ctx, id)
	if err != nil {
		r.record("rejected")
		return "", err
	}
	if err := Permitted(cfg.RCON, text); err != nil {
		r.record("rejected")
		return "", err
	}

	reply, err := r.execute(ctx, id, target, conn, cfg.RCON, text)
	switch {
	case err == nil:
		r.record("ok")
	case domain.IsKind(err, domain.KindTimeout):
		r.record("timeout")
	case domain.IsKind(err, domain.KindResourceExhausted):
		r.record("busy")
	default:
		r.record("error")
	}
	if err != nil {
		return "", err
	}
	r.log.Debugw("rcon command executed", "connection", id, "command", commandToken(text))
	return reply, nil
}

// CountPlayers asks the server for its player list and counts the entries.
func (r *Relay) CountPlayers(ctx context.Context, id string) (int, error) {
	cfg, target, conn, err := r.prepare(ctx, id)
	if err != nil {
		return 0, err
	}
	reply, err := r.execute(ctx, id, target, conn, cfg.RCON, playersCommand)
	if err != nil {
		return 0, err
	}
	return CountPlayerLines(reply), nil
}

func (r *Relay) prepare(ctx context.Context, id string) (domain.ServerConfig, shell.Target, domain.Connection, error) {
	var conn domain.Connection
	cfg, err := r.Configs.Load(ctx, id)
	if err != nil {
		return cfg, nil, conn, err
	}
	if !cfg.RCON.Enabled {
		return cfg, nil, conn, domain.Disabled("rcon is disabled for this server")
	}
	state, err := r.Servers.State(ctx, id)
	if err != nil {
		return cfg, nil, conn, err
	}
	if state != domain.StateRunning {
		return cfg, nil, conn, domain.NotRunning("server is %s", state)
	}
	target, conn, err := r.Servers.Target(ctx, id)
	if err != nil {
		return cfg, nil, conn, err
	}
	return cfg, target, conn, nil
}

func (r *Relay) execute(ctx context.Context, id string, target shell.Target, conn domain.Connection, rc domain.RconConfig, command string) (string, error) {
	route, err := Address(conn, rc, r.Protocol)
	if err != nil {
		return "", err
	}
	ep := Endpoint{Protocol: r.Protocol, Address: route.Address, Password: rc.Password, Timeout: r.Timeout}
	if route.Tunnel {
		tunneler, ok := target.(Tunneler)
		if !ok {
			return "", domain.InvalidState("connection %s cannot tunnel rcon", id)
		}
		ep.Tunnel = tunneler.DialContext
	}
	p, session, err := r.acquire(ctx, id, route, ep, rc.MaxClients)
	if err != nil {
		return "", err
	}

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := session.Execute(command)
		done <- result{reply, err}
	}()

	timer := time.NewTimer(r.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			r.release(p, session, false)
			return "", classify(res.err, "rcon command failed")
		}
		r.release(p, session, true)
		return res.reply, nil
	case <-timer.C:
		r.release(p, session, false)
		return "", domain.Timeout("rcon command timed out after %s", r.Timeout)
	case <-ctx.Done():
		r.release(p, session, false)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", domain.Timeout("rcon command timed out")
		}
		return "", ctx.Err()
	}
}

// acquire takes a session from the pool without waiting. The pool is
// rebuilt when the route, password or size changed.
func (r *Relay) acquire(ctx context.Context, id string, route Route, ep Endpoint, size int) (*pool, Conn, error) {
	if size <= 0 {
		size = 1
	}
	key := fmt.Sprintf("%s|%s|%t|%s|%d", ep.Protocol, route.Address, route.Tunnel, ep.Password, size)

	r.mu.Lock()
	p := r.pools[id]
	if p == nil || p.key != key {
		if p != nil {
			p.shutdown()
		}
		p = &pool{key: key, max: size}
		r.pools[id] = p
	}
	if p.inUse >= p.max {
		r.mu.Unlock()
		return nil, nil, domain.ResourceExhausted("all %d rcon sessions are busy", p.max)
	}
	p.inUse++
	if n := len(p.idle); n > 0 {
		session := p.idle[n-1]
		p.idle = p.idle[:n-1]
		r.mu.Unlock()
		return p, session, nil
	}
	r.mu.Unlock()

	session, err := r.Dialer.Dial(ctx, ep)
	if err != nil {
		r.mu.Lock()
		p.inUse--
		r.mu.Unlock()
		r.log.Warnw("rcon dial failed", "connection", id, "address", route.Address, "tunnel", route.Tunnel, "error", err)
		var de *domain.Error
		if errors.As(err, &de) {
			return nil, nil, err
		}
		return nil, nil, classify(err, "error connecting to rcon at %s", route.Address)
	}
	return p, session, nil
}

func (r *Relay) release(p *pool, session Conn, healthy bool) {
	r.mu.Lock()
	p.inUse--
	keep := healthy && !p.closed && len(p.idle) < p.max
	if keep {
		p.idle = append(p.idle, session)
	}
	r.mu.Unlock()
	if !keep {
		_ = session.Close()
	}
}

// Drop closes every idle session of the connection. Sessions in use are
// closed when they come back.
func (r *Relay) Drop(id string) {
	r.mu.Lock()
	p, ok := r.pools[id]
	delete(r.pools, id)
	if ok {
		p.shutdown()
	}
	r.mu.Unlock()
	if ok {
		r.log.Debugw("rcon pool dropped", "connection", id)
	}
}

func (r *Relay) Close() {
	r.mu.Lock()
	for id, p := range r.pools {
		p.shutdown()
		delete(r.pools, id)
	}
	r.mu.Unlock()
}

func (r *Relay) record(result string) {
	if r.Recorder != nil {
		r.Recorder.RconCommand(result)
	}
}

func (p *pool) shutdown() {
	p.closed = true
	for _, c := range p.idle {
		_ = c.Close()
	}
	p.idle = nil
}

// Route is how a session reaches the server's rcon listener.
type Route struct {
	Address string
	// Tunnel dials Address from the server's host over SSH.
	Tunnel bool
}

// Address resolves where the server listens for RCON. A wildcard bind
// address is reached through loopback locally or the SSH host remotely. A
// remote loopback address is tunnelled over SSH, which only carries TCP.
func Address(conn domain.Connection, rc domain.RconConfig, protocol string) (Route, error) {
	host := rc.Address
	ip := net.ParseIP(host)
	wildcard := host == "" || (ip != nil && ip.IsUnspecified())
	loopback := host == "localhost" || (ip != nil && ip.IsLoopback())

	var route Route
	switch {
	case !conn.IsRemote() && wildcard:
		host = "127.0.0.1"
	case conn.IsRemote() && wildcard:
		host = conn.Host
	case conn.IsRemote() && loopback:
		if domain.RconNetwork(protocol) != "tcp" {
			return route, domain.ValidationFields("rcon address is unreachable", []domain.FieldError{{
				Field:   "rconAddress",
				Message: fmt.Sprintf("%s is loopback on %s and %s rcon cannot be tunnelled over ssh", host, conn.Host, protocol),
			}})
		}
		route.Tunnel = true
	}
	route.Address = net.JoinHostPort(host, strconv.Itoa(rc.Port))
	return route, nil
}

// Permitted checks the leading token of a command against the deny list and
// then the allow list. The deny list wins.
func Permitted(rc domain.RconConfig, text string) error {
	token := commandToken(text)
	for _, denied := range rc.Blacklist {
		if normalizeToken(denied) == token {
			return domain.ValidationFields("command not permitted", []domain.FieldError{{Field: "command", Message: fmt.Sprintf("%q is blacklisted", token)}})
		}
	}
	if len(rc.Whitelist) == 0 {
		return nil
	}
	for _, allowed := range rc.Whitelist {
		if normalizeToken(allowed) == token {
			return nil
		}
	}
	return domain.ValidationFields("command not permitted", []domain.FieldError{{Field: "command", Message: fmt.Sprintf("%q is not whitelisted", token)}})
}

func commandToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return normalizeToken(fields[0])
}

func normalizeToken(s string) string {
	return strings.TrimLeft(strings.ToLower(strings.TrimSpace(s)), "#/")
}

var playerLine = regexp.MustCompile(`^\s*#?\d+[\s:.)\-]+\S`)

// CountPlayerLines counts the numbered entries of a player list reply.
func CountPlayerLines(reply string) int {
	n := 0
	for _, line := range strings.Split(reply, "\n") {
		if playerLine.MatchString(line) {
			n++
		}
	}
	return n
}

func classify(err error, format string, args ...any) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.Wrap(domain.KindTimeout, err, format, args...)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
