//go:build windows

package system

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows              = user32.NewProc("EnumWindows")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW     = user32.NewProc("GetWindowTextLengthW")
	procIsWindowVisible          = user32.NewProc("IsWindowVisible")
	procIsIconic                 = user32.NewProc("IsIconic")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procShowWindow               = user32.NewProc("ShowWindow")
	procSetForegroundWindow      = user32.NewProc("SetForegroundWindow")
	procBringWindowToTop         = user32.NewProc("BringWindowToTop")
)

const (
	swMinimize = 6
	swRestore  = 9
)

// enumWindows collects into the package-level slot because syscall callbacks are a
// finite resource and are created once.
var (
	enumMu       sync.Mutex
	enumResult   []uintptr
	enumCallback = syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		enumResult = append(enumResult, hwnd)
		return 1
	})
)

type user32Windows struct{}

// NewWindowManager returns the native window manager backed by user32.
func NewWindowManager() WindowManager {
	return user32Windows{}
}

func (user32Windows) Windows() ([]Window, error) {
	enumMu.Lock()
	enumResult = enumResult[:0]
	r, _, err := procEnumWindows.Call(enumCallback, 0)
	handles := append([]uintptr(nil), enumResult...)
	enumMu.Unlock()
	if r == 0 {
		return nil, fmt.Errorf("EnumWindows: %w", err)
	}

	fg, _, _ := procGetForegroundWindow.Call()
	out := make([]Window, 0, len(handles))
	for _, h := range handles {
		visible, _, _ := procIsWindowVisible.Call(h)
		if visible == 0 {
			continue
		}
		var pid uint32
		procGetWindowThreadProcessId.Call(h, uintptr(unsafe.Pointer(&pid)))
		iconic, _, _ := procIsIconic.Call(h)
		out = append(out, Window{
			Handle:    h,
			PID:       int(pid),
			Title:     windowText(h),
			Visible:   true,
			Minimized: iconic != 0,
			Focused:   h == fg,
		})
	}
	return out, nil
}

func windowText(h uintptr) string {
	n, _, _ := procGetWindowTextLengthW.Call(h)
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowTextW.Call(h, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf)
}

func (user32Windows) Focus(w Window) error {
	if w.Minimized {
		procShowWindow.Call(w.Handle, swRestore)
	}
	if r, _, err := procSetForegroundWindow.Call(w.Handle); r == 0 {
		return fmt.Errorf("SetForegroundWindow: %w", err)
	}
	return nil
}

func (user32Windows) Minimize(w Window) error {
	procShowWindow.Call(w.Handle, swMinimize)
	return nil
}

func (user32Windows) BringToFront(w Window) error {
	if w.Minimized {
		procShowWindow.Call(w.Handle, swRestore)
	}
	if r, _, err := procBringWindowToTop.Call(w.Handle); r == 0 {
		return fmt.Errorf("BringWindowToTop: %w", err)
	}
	procSetForegroundWindow.Call(w.Handle)
	return nil
}
