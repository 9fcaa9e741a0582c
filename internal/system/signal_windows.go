//go:build windows

package system

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"golang.org/x/sys/windows"
)

type windowsSignaler struct{}

// NewProcessSignaler returns the native signaler. Graceful close goes through taskkill
// without /F, which posts WM_CLOSE to the process windows.
func NewProcessSignaler() ProcessSignaler {
	return windowsSignaler{}
}

func (windowsSignaler) Terminate(pid int) error {
	cmd := exec.Command("taskkill", "/PID", strconv.Itoa(pid))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("taskkill pid %d: %w: %s", pid, err, out)
	}
	return nil
}

func (windowsSignaler) Kill(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("failed to open pid %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)
	if err := windows.TerminateProcess(h, 1); err != nil {
		return fmt.Errorf("failed to terminate pid %d: %w", pid, err)
	}
	return nil
}

func (windowsSignaler) Alive(pid int) bool {
	h, err := windows.OpenProcess(windows.SYNCHRONIZE|windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return openFailureMeansAlive(err)
	}
	defer windows.CloseHandle(h)
	ev, err := windows.WaitForSingleObject(h, 0)
	return err == nil && ev == uint32(windows.WAIT_TIMEOUT)
}

// openFailureMeansAlive reports whether an OpenProcess error still implies a running
// process. Elevated and protected processes refuse access, like EPERM on unix.
func openFailureMeansAlive(err error) bool {
	return errors.Is(err, windows.ERROR_ACCESS_DENIED)
}
