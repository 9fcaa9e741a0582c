//go:build windows

package hook

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUninstallReportsFailedQuitPost(t *testing.T) {
	orig := postQuit
	t.Cleanup(func() { postQuit = orig })
	postQuit = func(uint32) error { return syscall.Errno(1444) }

	h := &nativeHook{done: make(chan struct{}), threadID: 1}
	err := h.Uninstall()

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "uninstall", hookErr.Op)
	assert.Equal(t, uint32(1444), hookErr.Code)
	assert.NotNil(t, h.done, "a failed uninstall leaves the hook installed")
}

func TestInstallUninstallRoundTrip(t *testing.T) {
	h := New()
	if err := h.Install(func(RawEvent) bool { return false }); err != nil {
		t.Skipf("keyboard hook unavailable: %v", err)
	}
	require.NoError(t, h.Uninstall())
	require.NoError(t, h.Uninstall())
}
