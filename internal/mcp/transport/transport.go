// Package transport owns the one piece of MCP server lifecycle that
// github.com/mark3labs/mcp-go has no constructor for: spawning a local child
// process that serves MCP over HTTP (ServerConfig.Kind == http_local). The
// SDK's SSE client only connects to an already-running HTTP server, and its
// stdio client spawns its own child directly, so only this one transport
// kind still needs local process management; the wire protocol itself is
// always the SDK's from here on.
package transport

import (
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
)

// LocalProcess manages a locally-spawned child that serves MCP over HTTP.
// The caller is responsible for connecting to it (once listening) via the
// mark3labs/mcp-go SSE client; LocalProcess only owns start/stop.
type LocalProcess struct {
	cmd   *exec.Cmd
	alive atomic.Bool
	done  chan struct{}
}

// Spawn starts command with args/env, inheriting stderr for diagnostics, and
// arms a background wait so Alive() reflects the child's actual exit.
func Spawn(command string, args []string, env []string) (*LocalProcess, error) {
	cmd := exec.Command(command, args...)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: start %q: %w", command, err)
	}

	p := &LocalProcess{cmd: cmd, done: make(chan struct{})}
	p.alive.Store(true)
	go func() {
		_ = cmd.Wait()
		p.alive.Store(false)
		close(p.done)
	}()
	return p, nil
}

// Alive reports whether the child process is still running.
func (p *LocalProcess) Alive() bool {
	return p.alive.Load()
}

// Done returns a channel closed once the child process has exited, letting
// callers implement a "wait up to N, then force-kill" policy.
func (p *LocalProcess) Done() <-chan struct{} {
	return p.done
}

// Shutdown sends the platform graceful-terminate signal.
func (p *LocalProcess) Shutdown() error {
	if p.cmd.Process == nil {
		return nil
	}
	return terminateProcess(p.cmd.Process)
}

// ForceKill sends an unconditional kill signal. Idempotent.
func (p *LocalProcess) ForceKill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
