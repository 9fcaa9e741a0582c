//go:build !windows

package system

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// wmctrlWindows drives an EWMH window manager through wmctrl, xdotool and xprop.
type wmctrlWindows struct{}

// NewWindowManager returns the native window manager. On X11 desktops it shells out
// to wmctrl/xdotool/xprop; missing tools surface as errors from each call.
func NewWindowManager() WindowManager {
	return wmctrlWindows{}
}

func (wmctrlWindows) Windows() ([]Window, error) {
	out, err := exec.Command("wmctrl", "-l", "-p").Output()
	if err != nil {
		return nil, fmt.Errorf("wmctrl -l -p: %w", err)
	}
	windows := parseWmctrl(out)

	active := uintptr(0)
	if raw, err := exec.Command("xdotool", "getactivewindow").Output(); err == nil {
		if id, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64); err == nil {
			active = uintptr(id)
		}
	}
	for i := range windows {
		windows[i].Focused = windows[i].Handle == active
		windows[i].Minimized = hidden(windows[i].Handle)
	}
	return windows, nil
}

// parseWmctrl parses lines of the form "0x03a00007  0 12345 host Title words".
func parseWmctrl(out []byte) []Window {
	var windows []Window
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimPrefix(fields[0], "0x"), 16, 64)
		if err != nil {
			continue
		}
		pid, _ := strconv.Atoi(fields[2])
		title := ""
		if len(fields) > 4 {
			title = strings.Join(fields[4:], " ")
		}
		windows = append(windows, Window{
			Handle:  uintptr(id),
			PID:     pid,
			Title:   title,
			Visible: true,
		})
	}
	return windows
}

func hidden(handle uintptr) bool {
	out, err := exec.Command("xprop", "-id", hexID(handle), "_NET_WM_STATE").Output()
	if err != nil {
		return false
	}
	return bytes.Contains(out, []byte("_NET_WM_STATE_HIDDEN"))
}

func hexID(handle uintptr) string {
	return fmt.Sprintf("0x%08x", uint64(handle))
}

func (wmctrlWindows) Focus(w Window) error {
	if out, err := exec.Command("wmctrl", "-i", "-a", hexID(w.Handle)).CombinedOutput(); err != nil {
		return fmt.Errorf("wmctrl -a: %w: %s", err, out)
	}
	return nil
}

func (wmctrlWindows) Minimize(w Window) error {
	if out, err := exec.Command("xdotool", "windowminimize", strconv.FormatUint(uint64(w.Handle), 10)).CombinedOutput(); err != nil {
		return fmt.Errorf("xdotool windowminimize: %w: %s", err, out)
	}
	return nil
}

func (wmctrlWindows) BringToFront(w Window) error {
	if out, err := exec.Command("wmctrl", "-i", "-R", hexID(w.Handle)).CombinedOutput(); err != nil {
		return fmt.Errorf("wmctrl -R: %w: %s", err, out)
	}
	return nil
}
