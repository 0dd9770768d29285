//go:build windows

package capture

import "os"

func interrupt(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
