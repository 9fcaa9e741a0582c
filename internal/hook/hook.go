// Package hook intercepts system-wide keyboard input through a low-level OS hook and
// hands key events to consumers over a channel.
package hook

import (
	"errors"
	"fmt"
	"time"
)

// ErrHookUnsupported is returned when the platform has no low-level keyboard hook.
var ErrHookUnsupported = errors.New("low-level keyboard hook not supported on this platform")

// HookError is a failure to install or remove the OS hook. Code carries the OS error code
// when one is available.
type HookError struct {
	Op   string
	Code uint32
	Err  error
}

func (e *HookError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("keyboard hook %s failed (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("keyboard hook %s failed: %v", e.Op, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// RawEvent is one keystroke as reported by the OS hook.
type RawEvent struct {
	VK       uint32
	ScanCode uint32
	Down     bool
	Injected bool
	Time     time.Time
}

// Callback receives raw events on the hook thread. It must return quickly; a true
// return suppresses the keystroke for every other application.
type Callback func(RawEvent) bool

// Hook is an installable OS keyboard hook. Install blocks until the hook is active or
// has failed; Uninstall blocks until no further callback can run.
type Hook interface {
	Install(cb Callback) error
	Uninstall() error
}

// KeyEvent is a classified keystroke delivered to consumers.
type KeyEvent struct {
	Key       Key
	Modifiers Modifiers
	Down      bool
	// Repeat is set for auto-repeat key-downs while the key is held.
	Repeat   bool
	Injected bool
	Time     time.Time
}

func (ev KeyEvent) String() string {
	dir := "up"
	if ev.Down {
		dir = "down"
	}
	return fmt.Sprintf("%s %s", Chord{Key: ev.Key, Modifiers: ev.Modifiers}, dir)
}
