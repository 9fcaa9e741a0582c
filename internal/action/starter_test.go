//go:build unix

package action

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sleepBinary(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	return path
}

func TestExecStarterStarts(t *testing.T) {
	path := sleepBinary(t)
	pid, err := ExecStarter{}.Start(context.Background(), LaunchSpec{Path: path, Args: []string{"0"}, Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Positive(t, pid)
}

func TestExecStarterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// the start can still win the race with the cancelled ctx
	_, err := ExecStarter{}.Start(ctx, LaunchSpec{Path: sleepBinary(t), Args: []string{"0"}, Timeout: 5 * time.Second})
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestKillLateStopsAbandonedProcess(t *testing.T) {
	cmd := exec.Command(sleepBinary(t), "30")
	started := make(chan error, 1)
	started <- cmd.Start()

	done := make(chan struct{})
	go func() {
		killLate(cmd, started)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("abandoned process was not killed")
	}
	require.NotNil(t, cmd.ProcessState)
	assert.False(t, cmd.ProcessState.Success())
}

func TestKillLateIgnoresFailedStart(t *testing.T) {
	started := make(chan error, 1)
	started <- errors.New("no such file")
	killLate(exec.Command("missing"), started)
}
