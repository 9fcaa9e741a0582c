package condition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"apptrigger/internal/logging"
	"apptrigger/internal/metrics"
	"apptrigger/internal/system"
)

var errOutsideSequence = errors.New("previous action result requested outside an action sequence")

// Sequence carries the outcome of the preceding action while an action list executes.
type Sequence struct {
	InSequence      bool
	PreviousSuccess bool
}

// Standalone is the context of a condition evaluated outside any action list.
var Standalone = Sequence{}

// After returns the sequence context following an action that succeeded or failed.
func After(success bool) Sequence {
	return Sequence{InSequence: true, PreviousSuccess: success}
}

// Evaluator checks conditions against the live system. It holds no per-evaluation state.
type Evaluator struct {
	host    *system.Host
	log     logging.Logger
	metrics metrics.Collector
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger used for failed checks.
func WithLogger(l logging.Logger) Option {
	return func(e *Evaluator) { e.log = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator creates an evaluator over host.
func NewEvaluator(host *system.Host, opts ...Option) *Evaluator {
	e := &Evaluator{
		host:    host,
		log:     logging.Nop(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate checks d outside of any action sequence.
func (e *Evaluator) Evaluate(ctx context.Context, d Descriptor) bool {
	return e.EvaluateIn(ctx, d, Standalone)
}

// EvaluateIn checks d within seq. It never fails: a check that errors is logged and
// evaluates to false, and Negate only inverts checks that completed.
func (e *Evaluator) EvaluateIn(ctx context.Context, d Descriptor, seq Sequence) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			e.fail(d, fmt.Errorf("panic: %v", r))
			result = false
		}
	}()

	ok, err := e.check(ctx, d, seq)
	if err != nil {
		e.fail(d, err)
		return false
	}
	if d.Negate {
		return !ok
	}
	return ok
}

// AllPass reports whether every condition in ds holds. An empty list passes.
func (e *Evaluator) AllPass(ctx context.Context, ds []Descriptor, seq Sequence) bool {
	for _, d := range ds {
		if !e.EvaluateIn(ctx, d, seq) {
			e.log.Debug("condition not satisfied", logging.F("condition", d.String()))
			return false
		}
	}
	return true
}

func (e *Evaluator) fail(d Descriptor, err error) {
	if errors.Is(err, errOutsideSequence) {
		e.log.Debug("condition evaluated outside sequence", logging.F("condition_kind", string(d.Kind)))
		return
	}
	e.log.Warn("condition check failed",
		logging.F("condition_kind", string(d.Kind)),
		logging.F("condition", d.String()),
		logging.Err(err))
	e.metrics.RecordConditionError(string(d.Kind))
}

func (e *Evaluator) check(ctx context.Context, d Descriptor, seq Sequence) (bool, error) {
	switch d.Kind {
	case ProcessRunning:
		n, err := e.countProcesses(d.ProcessName)
		return n > 0, err
	case ProcessNotRunning:
		n, err := e.countProcesses(d.ProcessName)
		return n == 0, err
	case FileExists:
		return fileExists(d.path())
	case FileNotExists:
		exists, err := fileExists(d.path())
		return !exists, err
	case PreviousActionSuccess:
		if !seq.InSequence {
			return false, errOutsideSequence
		}
		return seq.PreviousSuccess, nil
	case WindowExists, WindowFocused, WindowMinimized:
		return e.checkWindow(d)
	case NetworkPortOpen:
		if e.host.Ports == nil {
			return false, system.ErrUnsupportedPlatform
		}
		return e.host.Ports.Probe(ctx, d.Address, d.Port, d.timeout())
	case TimeRange:
		return e.checkTimeRange(d)
	case DayOfWeek:
		return e.checkDayOfWeek(d)
	case SystemUptime:
		up, err := e.host.Clock.Uptime()
		if err != nil {
			return false, err
		}
		minUp := msDuration(d.MinUptimeMs)
		maxUp := msDuration(d.MaxUptimeMs)
		return up >= minUp && (d.MaxUptimeMs == 0 || up <= maxUp), nil
	case Expression:
		return e.evalExpression(ctx, d.Expression, seq)
	default:
		return false, fmt.Errorf("%w: %q", ErrUnsupportedCondition, d.Kind)
	}
}

func (e *Evaluator) countProcesses(name string) (int, error) {
	if e.host.Processes == nil {
		return 0, system.ErrUnsupportedPlatform
	}
	procs, err := system.FindProcesses(e.host.Processes, name, false)
	if err != nil {
		return 0, err
	}
	return len(procs), nil
}

// fileExists treats an empty path as nothing to find.
func fileExists(path string) (bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return false, nil
	}
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (e *Evaluator) checkWindow(d Descriptor) (bool, error) {
	if e.host.Windows == nil {
		return false, system.ErrUnsupportedPlatform
	}
	windows, err := MatchWindows(e.host, d.ProcessName, d.WindowTitle)
	if err != nil {
		return false, err
	}
	for _, w := range windows {
		switch d.Kind {
		case WindowExists:
			return true, nil
		case WindowFocused:
			if w.Focused {
				return true, nil
			}
		case WindowMinimized:
			if w.Minimized {
				return true, nil
			}
		}
	}
	return false, nil
}

// MatchWindows returns the windows owned by processes named processName and whose
// title contains title. Empty filters match everything.
func MatchWindows(host *system.Host, processName, title string) ([]system.Window, error) {
	windows, err := host.Windows.Windows()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate windows: %w", err)
	}

	var pids map[int]bool
	if strings.TrimSpace(processName) != "" {
		procs, err := system.FindProcesses(host.Processes, processName, false)
		if err != nil {
			return nil, err
		}
		pids = make(map[int]bool, len(procs))
		for _, p := range procs {
			pids[p.PID] = true
		}
	}
	title = strings.ToLower(strings.TrimSpace(title))

	var out []system.Window
	for _, w := range windows {
		if pids != nil && !pids[w.PID] {
			continue
		}
		if title != "" && !strings.Contains(strings.ToLower(w.Title), title) {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (e *Evaluator) checkTimeRange(d Descriptor) (bool, error) {
	start, err := parseClock(d.StartTime)
	if err != nil {
		return false, err
	}
	end, err := parseClock(d.EndTime)
	if err != nil {
		return false, err
	}
	tod := timeOfDay(e.host.Clock.Now())

	if start <= end {
		return tod >= start && tod <= end, nil
	}
	return tod >= start || tod <= end, nil
}

func (e *Evaluator) checkDayOfWeek(d Descriptor) (bool, error) {
	today := e.host.Clock.Now().Weekday()
	for _, s := range d.Days {
		day, err := parseWeekday(s)
		if err != nil {
			return false, err
		}
		if day == today {
			return true, nil
		}
	}
	return false, nil
}
