//go:build unix

package system

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type unixSignaler struct{}

// NewProcessSignaler returns the native signaler: SIGTERM for graceful close, SIGKILL to force.
func NewProcessSignaler() ProcessSignaler {
	return unixSignaler{}
}

func (unixSignaler) Terminate(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return nil
}

func (unixSignaler) Kill(pid int) error {
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill pid %d: %w", pid, err)
	}
	return nil
}

func (unixSignaler) Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
