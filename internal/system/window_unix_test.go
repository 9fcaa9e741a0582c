//go:build !windows

package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWmctrl(t *testing.T) {
	out := []byte("0x03a00007  0 4242   host Untitled - Editor\n0x01200003 -1 77 host\nbogus line\n")
	windows := parseWmctrl(out)
	require.Len(t, windows, 2)

	assert.Equal(t, uintptr(0x03a00007), windows[0].Handle)
	assert.Equal(t, 4242, windows[0].PID)
	assert.Equal(t, "Untitled - Editor", windows[0].Title)
	assert.Equal(t, "", windows[1].Title)
	assert.Equal(t, "0x03a00007", hexID(windows[0].Handle))
}
