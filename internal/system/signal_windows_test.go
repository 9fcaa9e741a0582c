//go:build windows

package system

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/windows"
)

func TestOpenFailureMeansAlive(t *testing.T) {
	assert.True(t, openFailureMeansAlive(windows.ERROR_ACCESS_DENIED))
	assert.True(t, openFailureMeansAlive(fmt.Errorf("open: %w", windows.ERROR_ACCESS_DENIED)))
	assert.False(t, openFailureMeansAlive(windows.ERROR_INVALID_PARAMETER))
}

func TestAliveOwnProcess(t *testing.T) {
	assert.True(t, NewProcessSignaler().Alive(os.Getpid()))
}

func TestUptimeOnWindows(t *testing.T) {
	up, err := uptime()
	assert.NoError(t, err)
	assert.Positive(t, up)
}
