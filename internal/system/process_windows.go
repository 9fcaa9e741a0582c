//go:build windows

package system

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

type toolhelpLister struct{}

// NewProcessLister returns the native process lister, walking a toolhelp snapshot.
func NewProcessLister() ProcessLister {
	return toolhelpLister{}
}

func (toolhelpLister) Processes() ([]Process, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot processes: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var out []Process
	err = windows.Process32First(snap, &entry)
	for err == nil {
		name := windows.UTF16ToString(entry.ExeFile[:])
		out = append(out, Process{
			PID:        int(entry.ProcessID),
			PPID:       int(entry.ParentProcessID),
			Name:       name,
			Executable: name,
		})
		err = windows.Process32Next(snap, &entry)
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return nil, fmt.Errorf("failed to walk process snapshot: %w", err)
	}
	return out, nil
}

func uptime() (time.Duration, error) {
	return windows.DurationSinceBoot(), nil
}
