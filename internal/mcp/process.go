package mcp

import (
	"time"

	"github.com/relaymesh/relay/internal/mcp/transport"
)

// Health is the supervised lifecycle state of a ServerProcess.
type Health string

const (
	HealthRunning    Health = "running"
	HealthDead       Health = "dead"
	HealthRestarting Health = "restarting"
	HealthFailed     Health = "failed"
)

const (
	// restartCooldown: a supervised process MUST NOT be restarted within this
	// window of its last restart, regardless of health signal.
	restartCooldown = 30 * time.Second

	// maxRestarts: restart_count >= this transitions Dead -> Failed.
	maxRestarts = 3

	// failedResetWindow: Failed for longer than this auto-resets to Dead so
	// manual recovery can retry. RestartCount is kept, so if the next probe
	// still fails the monitor marks the server Failed again without a restart.
	failedResetWindow = 5 * time.Minute

	// stopGracePeriod bounds how long Supervisor.stop waits for a graceful
	// shutdown before escalating to a forced kill.
	stopGracePeriod = 5 * time.Second
)

// ServerProcess is the runtime state for a supervised process. Client wraps
// the live MCP connection (wire protocol owned by mark3labs/mcp-go); Local is
// only set for KindHTTPLocal, which is the one kind where this package still
// spawns and tracks the raw child process underneath that connection.
type ServerProcess struct {
	Config    ServerConfig
	Client    *Client
	Local     *transport.LocalProcess
	Health    Health
	LastCheck time.Time

	RestartCount int
	LastRestart  time.Time
	FailedAt     time.Time
	ShutdownFlag bool
}

// restartAllowed implements the §4.2 startup gate: restart_count < 3 AND
// (now - last_restart) >= 30s AND health != Failed.
func (p *ServerProcess) restartAllowed(now time.Time) bool {
	if p.Health == HealthFailed {
		return false
	}
	if p.RestartCount >= maxRestarts {
		return false
	}
	if !p.LastRestart.IsZero() && now.Sub(p.LastRestart) < restartCooldown {
		return false
	}
	return true
}
