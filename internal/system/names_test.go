package system

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"notepad.exe", "notepad"},
		{"Notepad.EXE", "notepad"},
		{`C:\Windows\System32\notepad.exe`, "notepad"},
		{"/usr/bin/gedit", "gedit"},
		{"  firefox  ", "firefox"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestMatcherExactAndSimilar(t *testing.T) {
	procs := []Process{
		{PID: 1, Name: "chrome.exe"},
		{PID: 2, Name: "chrome_crashpad.exe"},
		{PID: 3, Name: "notepad.exe"},
		{PID: 4, Name: "kworker", Executable: "/usr/lib/google/Chrome"},
	}

	exact, err := NewMatcher("chrome", false)
	require.NoError(t, err)
	got := Filter(procs, exact)
	assert.Equal(t, []int{1, 4}, pids(got))

	similar, err := NewMatcher("chrome.exe", true)
	require.NoError(t, err)
	got = Filter(procs, similar)
	assert.Equal(t, []int{1, 2, 4}, pids(got))

	pattern, err := NewMatcher("note*", false)
	require.NoError(t, err)
	got = Filter(procs, pattern)
	assert.Equal(t, []int{3}, pids(got))

	_, err = NewMatcher("  ", false)
	assert.Error(t, err)
}

func TestDescendants(t *testing.T) {
	all := []Process{
		{PID: 10, PPID: 1, Name: "launcher"},
		{PID: 11, PPID: 10, Name: "worker"},
		{PID: 12, PPID: 11, Name: "helper"},
		{PID: 20, PPID: 1, Name: "other"},
		{PID: 0, PPID: 0, Name: "idle"},
	}
	got := Descendants(all, []Process{all[0]})
	assert.Equal(t, []int{11, 12}, pids(got))

	assert.Empty(t, Descendants(all, []Process{all[3]}))
}

type failingLister struct{}

func (failingLister) Processes() ([]Process, error) { return nil, errors.New("denied") }

func TestFindProcessesWrapsEnumerationError(t *testing.T) {
	_, err := FindProcesses(failingLister{}, "x", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func pids(ps []Process) []int {
	out := make([]int, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.PID)
	}
	return out
}
