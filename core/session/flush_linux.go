package session

import (
	"os"

	"golang.org/x/sys/unix"
)

// flushInput discards input written to the terminal but not yet read by the
// process.
func flushInput(f *os.File) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ioctlErr error
	if err := raw.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetInt(int(fd), unix.TCFLSH, unix.TCIFLUSH)
	}); err != nil {
		return err
	}
	return ioctlErr
}
