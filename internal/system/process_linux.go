//go:build linux

package system

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

type procfsLister struct{}

// NewProcessLister returns the native process lister, reading /proc.
func NewProcessLister() ProcessLister {
	return procfsLister{}
}

func (procfsLister) Processes() ([]Process, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("failed to open procfs: %w", err)
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			// the process exited between listing and reading
			continue
		}
		exe, _ := p.Executable()
		out = append(out, Process{
			PID:        p.PID,
			PPID:       stat.PPID,
			Name:       stat.Comm,
			Executable: exe,
		})
	}
	return out, nil
}

func uptime() (time.Duration, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, fmt.Errorf("failed to open procfs: %w", err)
	}
	stat, err := fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to read kernel stat: %w", err)
	}
	boot := time.Unix(int64(stat.BootTime), 0)
	return time.Since(boot), nil
}
