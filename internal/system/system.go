// Package system wraps the operating-system calls the trigger engine depends on:
// process enumeration and termination, window management, uptime and port probing.
package system

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnsupportedPlatform is returned by collaborators with no implementation for the running OS.
	ErrUnsupportedPlatform = errors.New("operation not supported on this platform")
	// ErrNoWindow is returned when no window matches a window lookup.
	ErrNoWindow = errors.New("no matching window found")
	// ErrNoProcess is returned when no process matches a process lookup.
	ErrNoProcess = errors.New("no matching process found")
)

// Process is a snapshot of one running process.
type Process struct {
	PID        int
	PPID       int
	Name       string
	Executable string
}

// Window is a snapshot of one top-level window.
type Window struct {
	Handle    uintptr
	PID       int
	Title     string
	Visible   bool
	Minimized bool
	Focused   bool
}

// ProcessLister enumerates running processes.
type ProcessLister interface {
	Processes() ([]Process, error)
}

// ProcessSignaler affects running processes.
type ProcessSignaler interface {
	// Terminate asks the process to exit gracefully.
	Terminate(pid int) error
	// Kill forcibly ends the process.
	Kill(pid int) error
	// Alive reports whether the process still exists.
	Alive(pid int) bool
}

// WindowManager enumerates and changes the state of top-level windows.
type WindowManager interface {
	Windows() ([]Window, error)
	Focus(w Window) error
	Minimize(w Window) error
	BringToFront(w Window) error
}

// PortProber checks whether something accepts connections on address:port.
type PortProber interface {
	Probe(ctx context.Context, address string, port int, timeout time.Duration) (bool, error)
}

// Clock supplies wall-clock time and time since boot.
type Clock interface {
	Now() time.Time
	Uptime() (time.Duration, error)
}

// Host bundles the OS collaborators the engine consults. Tests substitute fakes per field.
type Host struct {
	Processes ProcessLister
	Signals   ProcessSignaler
	Windows   WindowManager
	Ports     PortProber
	Clock     Clock
}

// Native returns a Host backed by the running operating system.
func Native() *Host {
	return &Host{
		Processes: NewProcessLister(),
		Signals:   NewProcessSignaler(),
		Windows:   NewWindowManager(),
		Ports:     &TCPProber{},
		Clock:     SystemClock{},
	}
}

// SystemClock reads the real clock and the OS uptime counter.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Uptime() (time.Duration, error) { return uptime() }
