package mcp

import (
	"context"
	"log"
	"sync"
	"time"
)

// healthTickInterval is the period between liveness probes (spec §4.5: 30s).
const healthTickInterval = 30 * time.Second

// probeTimeout bounds the remote-HTTP liveness probe (spec §4.5: 5s fixed).
const probeTimeout = 5 * time.Second

// HealthMonitor runs a cooperative background tick from Start until Stop (or
// ctx ends); each tick probes the non-builtin servers, following the
// ticker+done-channel idiom used by the session store's TTL cleanup loop.
type HealthMonitor struct {
	supervisor *Supervisor
	configs    func() map[string]ServerConfig
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHealthMonitor creates a monitor over supervisor. configs is called on
// every tick to get the current server set (so newly reloaded servers are
// picked up without restarting the monitor).
func NewHealthMonitor(supervisor *Supervisor, configs func() map[string]ServerConfig) *HealthMonitor {
	return &HealthMonitor{supervisor: supervisor, configs: configs, done: make(chan struct{})}
}

// Start begins the ticker loop. Call Stop to terminate it.
func (h *HealthMonitor) Start(ctx context.Context) {
	go h.loop(ctx)
}

// Stop terminates the ticker loop. Safe to call multiple times.
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *HealthMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(healthTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

// tick probes every non-builtin server once. It never blocks Dispatcher
// calls: each server's lock is held only briefly via Supervisor.updateHealth
// to snapshot/update {health, restart_count, last_health_check}.
func (h *HealthMonitor) tick(ctx context.Context) {
	for name, cfg := range h.configs() {
		if cfg.Kind == KindBuiltin {
			continue
		}
		h.probeOne(ctx, name, cfg)
	}
}

func (h *HealthMonitor) probeOne(ctx context.Context, name string, cfg ServerConfig) {
	p, ok := h.supervisor.process(name)
	if !ok {
		return
	}

	alive := h.probeLiveness(ctx, p, cfg)

	h.supervisor.updateHealth(name, func(p *ServerProcess, now time.Time) {
		p.LastCheck = now

		if alive {
			// Unsuccessful tool responses are NOT a health signal — only
			// process liveness is, so a reachable-but-erroring server stays Running.
			p.Health = HealthRunning
			return
		}

		switch p.Health {
		case HealthFailed:
			if now.Sub(p.FailedAt) > failedResetWindow {
				p.Health = HealthDead
				log.Printf("[MCP/Health] %q auto-reset Failed -> Dead after %s", name, failedResetWindow)
			}
			return
		default:
			p.Health = HealthDead
		}

		if !p.restartAllowed(now) {
			if p.RestartCount >= maxRestarts {
				p.Health = HealthFailed
				p.FailedAt = now
				log.Printf("[MCP/Health] %q exceeded restart budget, marking Failed", name)
			}
			return
		}

		// Attempt restart outside this lock-held callback would be ideal, but
		// EnsureRunning manages its own locking and is safe to call from here
		// since updateHealth's callback does not hold the Supervisor's mutex
		// during the spawn (see Supervisor.EnsureRunning's snapshot pattern).
		go func() {
			if _, err := h.supervisor.EnsureRunning(ctx, cfg); err != nil {
				log.Printf("[MCP/Health] restart of %q failed: %v", name, err)
			} else {
				log.Printf("[MCP/Health] restarted %q", name)
			}
		}()
	})
}

// probeLiveness implements step 1 of §4.5: stdio/local = is_running; remote
// HTTP = best-effort tools/list with a 5s timeout, since a remote server has
// no local process to check and "reachable" is the only liveness signal
// available for it.
func (h *HealthMonitor) probeLiveness(ctx context.Context, p *ServerProcess, cfg ServerConfig) bool {
	if cfg.Kind == KindHTTPRemote {
		if p.Client == nil {
			return false
		}
		return p.Client.Probe(ctx, probeTimeout)
	}
	return h.supervisor.IsRunning(cfg.Name)
}
