//go:build unix

package action

import (
	"os/exec"
	"syscall"
)

// detach puts the child in its own process group so a signal to the daemon's group
// does not take launched applications down with it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
