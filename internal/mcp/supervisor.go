package mcp

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/relaymesh/relay/internal/apperr"
	"github.com/relaymesh/relay/internal/mcp/transport"
)

// Supervisor maintains a concurrent map name -> ServerProcess, grounded on
// the lock-snapshot-then-network-IO-then-lock discipline already present in
// the teacher's connect/reload paths, generalized into a reusable process
// state machine per spec §4.2.
type Supervisor struct {
	mu        sync.Mutex
	processes map[string]*ServerProcess
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{processes: make(map[string]*ServerProcess)}
}

// EnsureRunning returns a live, connected *Client for cfg, (re)connecting if
// none exists or the existing one has gone unreachable. Builtin servers
// never reach here — the Dispatcher handles them in-process.
func (s *Supervisor) EnsureRunning(ctx context.Context, cfg ServerConfig) (*Client, error) {
	now := time.Now()

	s.mu.Lock()
	p, exists := s.processes[cfg.Name]
	if !exists {
		p = &ServerProcess{Config: cfg, Health: HealthDead}
		s.processes[cfg.Name] = p
	}
	needsSpawn := !exists || p.Client == nil || !p.Client.Alive()
	if needsSpawn && !p.restartAllowed(now) {
		s.mu.Unlock()
		return nil, apperr.New(apperr.SupervisorError, "supervisor.ensure_running",
			fmt.Errorf("server %q: restart blocked (count=%d, health=%s)", cfg.Name, p.RestartCount, p.Health))
	}
	if !needsSpawn {
		client := p.Client
		s.mu.Unlock()
		return client, nil
	}
	p.Health = HealthRestarting
	s.mu.Unlock()

	// Network/process I/O outside the lock.
	client, local, err := connectClient(ctx, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		p.Health = HealthDead
		p.RestartCount++
		p.LastRestart = now
		if p.RestartCount >= maxRestarts {
			p.Health = HealthFailed
			p.FailedAt = now
		}
		return nil, apperr.New(apperr.SupervisorError, "supervisor.ensure_running", err)
	}

	p.Client = client
	p.Local = local
	p.Health = HealthRunning
	p.LastCheck = now
	if exists {
		p.RestartCount++
		p.LastRestart = now
	}
	return client, nil
}

// connectClient performs the actual process/connection creation per Kind.
// KindHTTPLocal is the one variant mark3labs/mcp-go has no constructor for
// (its SSE client only dials an already-running server): this package still
// spawns the child itself, then connects to it the same way it would connect
// to a remote server once it is listening.
func connectClient(ctx context.Context, cfg ServerConfig) (*Client, *transport.LocalProcess, error) {
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.EffectiveTimeout())*time.Second)
	defer cancel()

	var local *transport.LocalProcess
	if cfg.Kind == KindHTTPLocal {
		lp, err := transport.Spawn(cfg.Command, cfg.Args, cfg.Env)
		if err != nil {
			return nil, nil, fmt.Errorf("spawn %q: %w", cfg.Name, err)
		}
		local = lp
		if err := awaitListening(connectCtx, cfg.URL); err != nil {
			_ = local.ForceKill()
			return nil, nil, fmt.Errorf("server %q never became reachable at %s: %w", cfg.Name, cfg.URL, err)
		}
	}

	client := NewClient(cfg.Name)
	if err := client.Connect(connectCtx, cfg); err != nil {
		if local != nil {
			_ = local.ForceKill()
		}
		return nil, nil, err
	}
	return client, local, nil
}

// awaitListening polls rawURL's host:port with a short backoff until a TCP
// dial succeeds or ctx expires, since an http_local child needs a moment to
// bind its listener after Spawn returns. This only proves the socket is
// accepting connections; the subsequent SSE Connect still performs the real
// MCP handshake.
func awaitListening(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	addr := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			addr = net.JoinHostPort(u.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	const pollInterval = 100 * time.Millisecond
	for {
		conn, err := (&net.Dialer{Timeout: pollInterval}).DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Stop requests graceful shutdown of a named server: closes the MCP client
// connection and, for a locally-spawned http_local child, sends the
// terminate signal and waits up to 5s before force-killing. Remote HTTP
// servers have no process to stop beyond closing the client.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	p, ok := s.processes[name]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	p.ShutdownFlag = true
	client := p.Client
	local := p.Local
	s.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}

	if local != nil {
		if err := local.Shutdown(); err != nil {
			log.Printf("[MCP/Supervisor] shutdown signal failed for %q: %v", name, err)
		}
		select {
		case <-local.Done():
		case <-time.After(stopGracePeriod):
			_ = local.ForceKill()
		}
	}

	s.mu.Lock()
	p.Health = HealthDead
	s.mu.Unlock()
	return nil
}

// StopAll stops every supervised server, including remote-HTTP no-ops.
// Invoked on process exit.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := make([]string, 0, len(s.processes))
	for name := range s.processes {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Stop(name); err != nil {
			log.Printf("[MCP/Supervisor] stop %q: %v", name, err)
		}
	}
}

// IsRunning reports whether the connection reports alive and the shutdown flag is clear.
func (s *Supervisor) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[name]
	if !ok || p.ShutdownFlag || p.Client == nil {
		return false
	}
	return p.Client.Alive()
}

// Snapshot returns the current Health of a named server, HealthDead if unknown.
func (s *Supervisor) Snapshot(name string) (health Health, restartCount int, lastCheck time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[name]
	if !ok {
		return HealthDead, 0, time.Time{}
	}
	return p.Health, p.RestartCount, p.LastCheck
}

// updateHealth is used by the Health Monitor to linearize updates to
// {health, restart_count, last_health_check} via the Supervisor's single
// per-server mutex.
func (s *Supervisor) updateHealth(name string, fn func(p *ServerProcess, now time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[name]
	if !ok {
		return
	}
	fn(p, time.Now())
}

// process returns the ServerProcess for name, if tracked.
func (s *Supervisor) process(name string) (*ServerProcess, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[name]
	return p, ok
}

// names returns all currently tracked server names.
func (s *Supervisor) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.processes))
	for name := range s.processes {
		out = append(out, name)
	}
	return out
}

// remove drops a server from supervision entirely (used by Manager.Reload
// when a server is removed from configuration).
func (s *Supervisor) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processes, name)
}
