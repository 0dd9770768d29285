//go:build !windows

package capture

import (
	"os"
	"syscall"
)

func interrupt(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Signal(syscall.SIGTERM)
}
