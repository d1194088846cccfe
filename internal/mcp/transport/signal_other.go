//go:build !windows

package transport

import (
	"os"
	"syscall"
)

// terminateProcess sends SIGTERM, the graceful shutdown signal supervisors
// use before escalating to SIGKILL.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
