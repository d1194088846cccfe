//go:build windows

package transport

import "os"

// terminateProcess falls back to Kill on Windows: os.Process.Signal only
// supports os.Kill there, so there is no portable graceful-term signal to send.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
