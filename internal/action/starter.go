package action

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// LaunchSpec describes a process to start.
type LaunchSpec struct {
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Starter starts processes for Launch and Restart.
type Starter interface {
	Start(ctx context.Context, spec LaunchSpec) (pid int, err error)
}

// ExecStarter starts processes with os/exec. Started processes outlive the action:
// they are not bound to ctx, and are reaped in the background.
type ExecStarter struct{}

func (ExecStarter) Start(ctx context.Context, spec LaunchSpec) (int, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	detach(cmd)

	started := make(chan error, 1)
	go func() { started <- cmd.Start() }()

	timer := time.NewTimer(spec.Timeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			return 0, fmt.Errorf("failed to start %s: %w", spec.Path, err)
		}
		go func() { _ = cmd.Wait() }()
		return cmd.Process.Pid, nil
	case <-timer.C:
		go killLate(cmd, started)
		return 0, fmt.Errorf("%s did not start within %s", spec.Path, spec.Timeout)
	case <-ctx.Done():
		go killLate(cmd, started)
		return 0, ctx.Err()
	}
}

// killLate waits for an abandoned start and kills the process if it came up anyway,
// so a Launch reported as failed leaves nothing running.
func killLate(cmd *exec.Cmd, started <-chan error) {
	if err := <-started; err != nil {
		return
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
}
