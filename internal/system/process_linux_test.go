//go:build linux

package system

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcfsListerSeesSelf(t *testing.T) {
	procs, err := NewProcessLister().Processes()
	require.NoError(t, err)

	self := os.Getpid()
	found := false
	for _, p := range procs {
		if p.PID == self {
			found = true
			assert.Equal(t, os.Getppid(), p.PPID)
		}
	}
	assert.True(t, found, "own pid should be listed")
}

func TestUptimePositive(t *testing.T) {
	up, err := SystemClock{}.Uptime()
	require.NoError(t, err)
	assert.Greater(t, up.Seconds(), 0.0)
}
