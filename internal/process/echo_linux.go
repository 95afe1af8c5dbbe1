//go:build linux

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// disableEcho turns off terminal echo so the password written to the
// terminal is never read back as output.
func disableEcho(f *os.File) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	err = rc.Control(func(fd uintptr) {
		termios, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
		if err != nil {
			opErr = err
			return
		}
		termios.Lflag &^= unix.ECHO
		opErr = unix.IoctlSetTermios(int(fd), unix.TCSETS, termios)
	})
	if err != nil {
		return err
	}
	return opErr
}
