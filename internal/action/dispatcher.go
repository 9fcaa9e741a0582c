package action

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"apptrigger/internal/condition"
	"apptrigger/internal/logging"
	"apptrigger/internal/metrics"
	"apptrigger/internal/system"
)

const defaultClosePoll = 100 * time.Millisecond

// Dispatcher executes actions. It is safe for concurrent use: Launch actions run in
// parallel, while Close and Restart are serialized per target.
type Dispatcher struct {
	host        *system.Host
	eval        *condition.Evaluator
	starter     Starter
	log         logging.Logger
	metrics     metrics.Collector
	maxParallel int
	closePoll   time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithStarter replaces the process starter.
func WithStarter(s Starter) Option {
	return func(d *Dispatcher) { d.starter = s }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithMaxParallel bounds ExecuteMultipleActions. Zero or less uses GOMAXPROCS.
func WithMaxParallel(n int) Option {
	return func(d *Dispatcher) { d.maxParallel = n }
}

// WithClosePoll sets how often Close checks whether terminated processes have exited.
func WithClosePoll(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.closePoll = interval
		}
	}
}

// NewDispatcher creates a dispatcher acting on host, gating actions through eval.
func NewDispatcher(host *system.Host, eval *condition.Evaluator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		host:      host,
		eval:      eval,
		starter:   ExecStarter{},
		log:       logging.Nop(),
		metrics:   metrics.Nop{},
		closePoll: defaultClosePoll,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxParallel <= 0 {
		d.maxParallel = runtime.GOMAXPROCS(0)
	}
	return d
}

// Execute runs a single action outside of any sequence.
func (d *Dispatcher) Execute(ctx context.Context, a Descriptor) Result {
	return d.ExecuteIn(ctx, a, condition.Standalone)
}

// ExecuteSequence runs actions strictly in order. Each action sees the previous one's
// success through PreviousActionSuccess conditions; a skipped action counts as failed.
func (d *Dispatcher) ExecuteSequence(ctx context.Context, actions []Descriptor) []Result {
	results := make([]Result, 0, len(actions))
	seq := condition.Standalone
	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Kind: a.Kind, Target: a.TargetName(), Err: err})
			seq = condition.After(false)
			continue
		}
		r := d.ExecuteIn(ctx, a, seq)
		results = append(results, r)
		seq = condition.After(r.Success)
	}
	return results
}

// ExecuteMultipleActions runs independent actions concurrently and returns their
// results in input order. One failure does not stop the others.
func (d *Dispatcher) ExecuteMultipleActions(ctx context.Context, actions []Descriptor) []Result {
	results := make([]Result, len(actions))
	g := new(errgroup.Group)
	g.SetLimit(d.maxParallel)
	for i, a := range actions {
		g.Go(func() error {
			results[i] = d.Execute(ctx, a)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ExecuteIn runs a within seq. Malformed descriptors and unmet conditions are reported
// as not executed; OS failures as executed but unsuccessful. It never panics.
func (d *Dispatcher) ExecuteIn(ctx context.Context, a Descriptor, seq condition.Sequence) (r Result) {
	start := time.Now()
	r = Result{Kind: a.Kind, Target: a.TargetName()}

	defer func() {
		if p := recover(); p != nil {
			r.Executed = true
			r.Success = false
			r.Err = fmt.Errorf("action panicked: %v", p)
		}
		r.Duration = time.Since(start)
		d.report(r)
	}()

	if err := a.Validate(); err != nil {
		r.Err = err
		return r
	}
	if !d.eval.AllPass(ctx, a.Conditions, seq) {
		return r
	}

	var err error
	switch a.Kind {
	case Launch:
		r.PID, err = d.launch(ctx, a)
	case Close:
		err = d.close(ctx, a)
	case Restart:
		r.PID, err = d.restart(ctx, a)
	case Focus, Minimize, BringToFront:
		err = d.arrange(a)
	}

	if errors.Is(err, system.ErrNoProcess) || errors.Is(err, system.ErrNoWindow) {
		r.Err = err
		return r
	}
	r.Executed = true
	r.Success = err == nil
	r.Err = err
	return r
}

func (d *Dispatcher) report(r Result) {
	fields := []logging.Field{
		logging.F("action_kind", string(r.Kind)),
		logging.F("target", r.Target),
		logging.F("executed", r.Executed),
		logging.F("success", r.Success),
		logging.F("duration", r.Duration),
	}
	switch r.Status() {
	case "skipped":
		d.log.Info("action skipped: conditions not met", fields...)
	case "success":
		d.log.Info("action executed", fields...)
	default:
		d.log.Warn("action failed", append(fields, logging.Err(r.Err))...)
	}
	d.metrics.RecordActionExecution(string(r.Kind), r.Status(), r.Duration)
}

func (d *Dispatcher) lockTarget(target string) func() {
	key := system.NormalizeName(target)
	d.locksMu.Lock()
	m, ok := d.locks[key]
	if !ok {
		m = &sync.Mutex{}
		d.locks[key] = m
	}
	d.locksMu.Unlock()
	m.Lock()
	return m.Unlock
}

func (d *Dispatcher) launch(ctx context.Context, a Descriptor) (int, error) {
	args, err := a.Args()
	if err != nil {
		return 0, err
	}
	dir := a.WorkingDirectory
	if dir == "" && strings.ContainsAny(a.ExecutablePath, `/\`) {
		dir = filepath.Dir(a.ExecutablePath)
	}
	pid, err := d.starter.Start(ctx, LaunchSpec{
		Path:    a.ExecutablePath,
		Args:    args,
		Dir:     dir,
		Timeout: a.Timeout(),
	})
	if err != nil {
		return 0, err
	}
	d.log.Debug("process started", logging.F("target", a.TargetName()), logging.F("pid", pid))
	return pid, nil
}

func (d *Dispatcher) close(ctx context.Context, a Descriptor) error {
	unlock := d.lockTarget(a.TargetName())
	defer unlock()
	return d.closeLocked(ctx, a)
}

func (d *Dispatcher) restart(ctx context.Context, a Descriptor) (int, error) {
	unlock := d.lockTarget(a.TargetName())
	defer unlock()

	if err := d.closeLocked(ctx, a); err != nil && !errors.Is(err, system.ErrNoProcess) {
		return 0, fmt.Errorf("restart: %w", err)
	}
	return d.launch(ctx, a)
}

// closeTargets selects the processes a Close acts on: exact name matches, plus processes
// with similar names and descendants of the exact matches when requested. The two
// optional sets are independent of each other.
func (d *Dispatcher) closeTargets(a Descriptor) ([]system.Process, error) {
	if d.host.Processes == nil || d.host.Signals == nil {
		return nil, system.ErrUnsupportedPlatform
	}
	all, err := d.host.Processes.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	exact, err := system.NewMatcher(a.TargetName(), false)
	if err != nil {
		return nil, err
	}
	roots := system.Filter(all, exact)
	targets := append([]system.Process(nil), roots...)

	if a.IncludeSimilarNames {
		similar, err := system.NewMatcher(a.TargetName(), true)
		if err != nil {
			return nil, err
		}
		targets = append(targets, system.Filter(all, similar)...)
	}
	if a.IncludeChildren {
		targets = append(targets, system.Descendants(all, roots)...)
	}

	seen := make(map[int]bool, len(targets))
	out := targets[:0]
	for _, p := range targets {
		if !seen[p.PID] {
			seen[p.PID] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *Dispatcher) closeLocked(ctx context.Context, a Descriptor) error {
	targets, err := d.closeTargets(a)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("%w: %s", system.ErrNoProcess, a.TargetName())
	}

	for _, p := range targets {
		if err := d.host.Signals.Terminate(p.PID); err != nil {
			d.log.Debug("terminate request failed", logging.F("pid", p.PID), logging.Err(err))
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, a.Timeout())
	remaining := d.waitExit(waitCtx, targets)
	cancel()
	if len(remaining) == 0 {
		return nil
	}
	// Force escalates only after the graceful wait ran its full timeout.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("close of %s interrupted with %d process(es) still running: %w", a.TargetName(), len(remaining), err)
	}
	if !a.Force {
		return fmt.Errorf("%d process(es) of %s still running after %s", len(remaining), a.TargetName(), a.Timeout())
	}

	d.log.Info("escalating to forced termination",
		logging.F("target", a.TargetName()),
		logging.F("remaining", len(remaining)))
	for _, p := range remaining {
		if err := d.host.Signals.Kill(p.PID); err != nil {
			d.log.Debug("kill failed", logging.F("pid", p.PID), logging.Err(err))
		}
	}

	killCtx, cancel := context.WithTimeout(ctx, a.Timeout())
	defer cancel()
	if remaining = d.waitExit(killCtx, remaining); len(remaining) > 0 {
		return fmt.Errorf("forced termination of %s failed for %d process(es)", a.TargetName(), len(remaining))
	}
	return nil
}

// waitExit polls until every process has exited or ctx ends, and returns the survivors.
func (d *Dispatcher) waitExit(ctx context.Context, procs []system.Process) []system.Process {
	ticker := time.NewTicker(d.closePoll)
	defer ticker.Stop()
	for {
		alive := procs[:0:0]
		for _, p := range procs {
			if d.host.Signals.Alive(p.PID) {
				alive = append(alive, p)
			}
		}
		if len(alive) == 0 {
			return nil
		}
		procs = alive
		select {
		case <-ctx.Done():
			return procs
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) arrange(a Descriptor) error {
	if d.host.Windows == nil {
		return system.ErrUnsupportedPlatform
	}
	windows, err := condition.MatchWindows(d.host, a.TargetName(), a.WindowTitle)
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		return fmt.Errorf("%w: %s", system.ErrNoWindow, a)
	}

	wm := d.host.Windows
	switch a.Kind {
	case Minimize:
		var errs []error
		for _, w := range windows {
			if err := wm.Minimize(w); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	case Focus:
		return wm.Focus(primaryWindow(windows))
	default:
		return wm.BringToFront(primaryWindow(windows))
	}
}

// primaryWindow prefers a visible window over hidden ones.
func primaryWindow(windows []system.Window) system.Window {
	for _, w := range windows {
		if w.Visible {
			return w
		}
	}
	return windows[0]
}
