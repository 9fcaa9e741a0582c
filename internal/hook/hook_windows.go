//go:build windows

package hook

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	whKeyboardLL  = 13
	hcAction      = 0
	wmQuit        = 0x0012
	wmUser        = 0x0400
	pmNoRemove    = 0x0000
	wmKeyDown     = 0x0100
	wmSysKeyDown  = 0x0104
	llkhfInjected = 0x10
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
	procPeekMessageW        = user32.NewProc("PeekMessageW")
)

// postQuit asks the hook thread's message loop to exit.
var postQuit = func(threadID uint32) error {
	if r, _, callErr := procPostThreadMessageW.Call(uintptr(threadID), wmQuit, 0, 0); r == 0 {
		return callErr
	}
	return nil
}

type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type point struct {
	X, Y int32
}

type msg struct {
	Hwnd    windows.HWND
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      point
}

var (
	// one hook per process; windows.NewCallback slots are never released
	active      atomic.Pointer[nativeHook]
	hookProcPtr = windows.NewCallback(lowLevelKeyboardProc)
)

func lowLevelKeyboardProc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	if nCode == hcAction {
		if h := active.Load(); h != nil {
			kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
			ev := RawEvent{
				VK:       kb.VkCode,
				ScanCode: kb.ScanCode,
				Down:     wParam == wmKeyDown || wParam == wmSysKeyDown,
				Injected: kb.Flags&llkhfInjected != 0,
				Time:     time.Now(),
			}
			if h.cb(ev) {
				return 1
			}
		}
	}
	r, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return r
}

type nativeHook struct {
	mu        sync.Mutex
	cb        Callback
	hhk       uintptr
	threadID  uint32
	done      chan struct{}
	unhookErr error
}

// New returns the Windows WH_KEYBOARD_LL hook.
func New() Hook {
	return &nativeHook{}
}

func (h *nativeHook) Install(cb Callback) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		return &HookError{Op: "install", Err: errors.New("hook already installed")}
	}
	h.cb = cb
	if !active.CompareAndSwap(nil, h) {
		return &HookError{Op: "install", Err: errors.New("another keyboard hook is active in this process")}
	}

	ready := make(chan error, 1)
	h.done = make(chan struct{})
	go h.run(ready)
	if err := <-ready; err != nil {
		<-h.done
		h.done = nil
		active.CompareAndSwap(h, nil)
		return err
	}
	return nil
}

// run owns the hook for its whole life: the hook procedure is only called on the
// installing thread, and only while that thread pumps messages.
func (h *nativeHook) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(h.done)

	h.threadID = windows.GetCurrentThreadId()
	// a thread has no message queue until it touches one; PostThreadMessage fails before that
	var m msg
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, wmUser, wmUser, pmNoRemove)

	var module windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
		ready <- &HookError{Op: "install", Code: errnoCode(err), Err: err}
		return
	}
	hhk, _, callErr := procSetWindowsHookExW.Call(whKeyboardLL, hookProcPtr, uintptr(module), 0)
	if hhk == 0 {
		ready <- &HookError{Op: "install", Code: errnoCode(callErr), Err: callErr}
		return
	}
	h.hhk = hhk
	ready <- nil

	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		// 0 is WM_QUIT, -1 an error; both end the loop
		if int32(r) <= 0 {
			break
		}
	}

	if r, _, callErr := procUnhookWindowsHookEx.Call(h.hhk); r == 0 {
		h.unhookErr = &HookError{Op: "uninstall", Code: errnoCode(callErr), Err: callErr}
	}
}

func (h *nativeHook) Uninstall() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done == nil {
		return nil
	}
	if err := postQuit(h.threadID); err != nil {
		return &HookError{Op: "uninstall", Code: errnoCode(err), Err: err}
	}
	<-h.done
	h.done = nil
	active.CompareAndSwap(h, nil)
	return h.unhookErr
}

func errnoCode(err error) uint32 {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return uint32(errno)
	}
	return 0
}
