// Package systemtest provides in-memory system collaborators for tests.
package systemtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"apptrigger/internal/system"
)

// Processes is a mutable fake process table. It also implements system.ProcessSignaler:
// Terminate removes the process unless it is marked stubborn, Kill always removes it.
type Processes struct {
	mu         sync.Mutex
	procs      map[int]system.Process
	stubborn   map[int]bool
	nextPID    int
	Err        error
	Calls      int
	Terminated []int
	Killed     []int
}

// NewProcesses creates an empty fake process table.
func NewProcesses() *Processes {
	return &Processes{
		procs:    make(map[int]system.Process),
		stubborn: make(map[int]bool),
		nextPID:  1000,
	}
}

// Start adds a running process and returns its pid.
func (p *Processes) Start(name string, ppid int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextPID++
	pid := p.nextPID
	p.procs[pid] = system.Process{PID: pid, PPID: ppid, Name: name, Executable: name}
	return pid
}

// Stop removes a process as if it exited on its own.
func (p *Processes) Stop(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.procs, pid)
}

// StopAll removes every process with the given name.
func (p *Processes) StopAll(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for pid, proc := range p.procs {
		if proc.Name == name {
			delete(p.procs, pid)
		}
	}
}

// SetStubborn makes Terminate leave the process running.
func (p *Processes) SetStubborn(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stubborn[pid] = true
}

// SetError makes Processes fail with err until cleared with nil.
func (p *Processes) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Count returns the number of running processes named name.
func (p *Processes) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, proc := range p.procs {
		if proc.Name == name {
			n++
		}
	}
	return n
}

// CallCount returns how many times Processes has been called.
func (p *Processes) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls
}

// TerminatedPIDs returns the pids Terminate was called for.
func (p *Processes) TerminatedPIDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.Terminated...)
}

// KilledPIDs returns the pids Kill was called for.
func (p *Processes) KilledPIDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.Killed...)
}

func (p *Processes) Processes() ([]system.Process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([]system.Process, 0, len(p.procs))
	for _, proc := range p.procs {
		out = append(out, proc)
	}
	return out, nil
}

func (p *Processes) Terminate(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.procs[pid]; !ok {
		return fmt.Errorf("no such process %d", pid)
	}
	p.Terminated = append(p.Terminated, pid)
	if !p.stubborn[pid] {
		delete(p.procs, pid)
	}
	return nil
}

func (p *Processes) Kill(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.procs[pid]; !ok {
		return fmt.Errorf("no such process %d", pid)
	}
	p.Killed = append(p.Killed, pid)
	delete(p.procs, pid)
	return nil
}

func (p *Processes) Alive(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.procs[pid]
	return ok
}

// Windows is a fake window manager recording the operations applied.
type Windows struct {
	mu      sync.Mutex
	windows []system.Window
	Err     error
	Ops     []string
}

// Add registers a window.
func (w *Windows) Add(win system.Window) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.windows = append(w.windows, win)
}

func (w *Windows) Windows() ([]system.Window, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Err != nil {
		return nil, w.Err
	}
	return append([]system.Window(nil), w.windows...), nil
}

func (w *Windows) record(op string, win system.Window) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Ops = append(w.Ops, fmt.Sprintf("%s:%d", op, win.Handle))
	return nil
}

func (w *Windows) Focus(win system.Window) error        { return w.record("focus", win) }
func (w *Windows) Minimize(win system.Window) error     { return w.record("minimize", win) }
func (w *Windows) BringToFront(win system.Window) error { return w.record("front", win) }

// Operations returns a copy of the recorded operations.
func (w *Windows) Operations() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.Ops...)
}

// Ports is a fake prober keyed by "address:port".
type Ports struct {
	mu   sync.Mutex
	open map[string]bool
}

// SetOpen marks address:port open or closed.
func (p *Ports) SetOpen(address string, port int, open bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open == nil {
		p.open = make(map[string]bool)
	}
	p.open[fmt.Sprintf("%s:%d", address, port)] = open
}

func (p *Ports) Probe(_ context.Context, address string, port int, _ time.Duration) (bool, error) {
	if port <= 0 || port > 65535 {
		return false, fmt.Errorf("port %d out of range", port)
	}
	if address == "" {
		address = "127.0.0.1"
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open[fmt.Sprintf("%s:%d", address, port)], nil
}

// Clock is a settable clock.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	uptime time.Duration
	Err    error
}

// NewClock returns a clock frozen at now with the given uptime.
func NewClock(now time.Time, uptime time.Duration) *Clock {
	return &Clock{now: now, uptime: uptime}
}

// Set moves the clock.
func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Uptime() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uptime, c.Err
}

// Host bundles the fakes into a system.Host.
type Host struct {
	*system.Host
	Procs   *Processes
	Wins    *Windows
	PortSet *Ports
	Time    *Clock
}

// NewHost returns a Host wired entirely with fakes.
func NewHost() *Host {
	procs := NewProcesses()
	wins := &Windows{}
	ports := &Ports{}
	clock := NewClock(time.Date(2024, time.March, 6, 12, 0, 0, 0, time.Local), 2*time.Hour)
	return &Host{
		Host: &system.Host{
			Processes: procs,
			Signals:   procs,
			Windows:   wins,
			Ports:     ports,
			Clock:     clock,
		},
		Procs:   procs,
		Wins:    wins,
		PortSet: ports,
		Time:    clock,
	}
}
