//go:build !unix

package process

import (
	"os"
	"syscall"
)

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if sig != syscall.SIGKILL {
		return nil
	}
	return p.Kill()
}
