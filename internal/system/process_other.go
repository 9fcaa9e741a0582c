//go:build !linux && !windows

package system

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

type psLister struct{}

// NewProcessLister returns a process lister that parses ps output.
func NewProcessLister() ProcessLister {
	return psLister{}
}

func (psLister) Processes() ([]Process, error) {
	out, err := exec.Command("ps", "-axo", "pid=,ppid=,comm=").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run ps: %w", err)
	}
	return parsePS(out), nil
}

func parsePS(out []byte) []Process {
	var procs []Process
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		ppid, _ := strconv.Atoi(fields[1])
		exe := strings.Join(fields[2:], " ")
		procs = append(procs, Process{
			PID:        pid,
			PPID:       ppid,
			Name:       filepath.Base(exe),
			Executable: exe,
		})
	}
	return procs
}
