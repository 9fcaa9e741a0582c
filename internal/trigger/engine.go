// Package trigger owns the registry of configured triggers and wires each trigger's
// detection source to its gated action list.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"apptrigger/internal/action"
	"apptrigger/internal/condition"
	"apptrigger/internal/event"
	"apptrigger/internal/hook"
	"apptrigger/internal/logging"
	"apptrigger/internal/metrics"
	"apptrigger/internal/system"
	"apptrigger/internal/watch"
)

// State is a registered trigger's lifecycle state.
type State int

const (
	Registered State = iota + 1
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Registered:
		return "Registered"
	case Started:
		return "Started"
	case Stopped:
		return "Stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Info describes a registered trigger.
type Info struct {
	Descriptor Descriptor
	State      State
}

// Engine is the trigger registry. All methods are safe for concurrent use.
type Engine struct {
	host        *system.Host
	log         logging.Logger
	metrics     metrics.Collector
	eval        *condition.Evaluator
	dispatcher  *action.Dispatcher
	keys        *keyRouter
	sink        event.Sink
	defaultPoll time.Duration

	watcher     *hook.Watcher
	actionOpts  []action.Option
	queueSize   int
	ctx         context.Context
	cancel      context.CancelFunc
	startedOnce sync.Once
	closeOnce   sync.Once

	mu       sync.RWMutex
	triggers map[string]*registered
	closed   bool

	subsMu  sync.Mutex
	subs    map[int]chan *event.Activation
	nextSub int
}

// Option configures an Engine.
type Option func(*Engine)

// WithHost sets the OS collaborators. Defaults to system.Native().
func WithHost(h *system.Host) Option {
	return func(e *Engine) { e.host = h }
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithHookWatcher sets the keyboard watcher used by Keybind triggers.
func WithHookWatcher(w *hook.Watcher) Option {
	return func(e *Engine) { e.watcher = w }
}

// WithSink sets where activations are published besides subscribers.
func WithSink(s event.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithDefaultPollInterval sets the interval for pollers whose trigger has none.
func WithDefaultPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultPoll = d
		}
	}
}

// WithMaxParallel bounds ExecuteMultipleActions.
func WithMaxParallel(n int) Option {
	return func(e *Engine) { e.actionOpts = append(e.actionOpts, action.WithMaxParallel(n)) }
}

// WithActionOptions passes options to the action dispatcher.
func WithActionOptions(opts ...action.Option) Option {
	return func(e *Engine) { e.actionOpts = append(e.actionOpts, opts...) }
}

// NewEngine creates an engine. No trigger is registered and no OS resource is held
// until RegisterTrigger is called.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		log:         logging.Nop(),
		metrics:     metrics.Nop{},
		defaultPoll: watch.DefaultInterval,
		queueSize:   16,
		triggers:    make(map[string]*registered),
		subs:        make(map[int]chan *event.Activation),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.host == nil {
		e.host = system.Native()
	}
	if e.watcher == nil {
		e.watcher = hook.NewWatcher(hook.WithLogger(e.log), hook.WithMetrics(e.metrics))
	}

	e.eval = condition.NewEvaluator(e.host,
		condition.WithLogger(e.log),
		condition.WithMetrics(e.metrics))
	e.dispatcher = action.NewDispatcher(e.host, e.eval, append([]action.Option{
		action.WithLogger(e.log),
		action.WithMetrics(e.metrics),
	}, e.actionOpts...)...)
	e.keys = newKeyRouter(e.watcher, e.log)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Start raises the built-in "startup" system event once, and closes the engine when
// ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if e.isClosed() {
		return ErrEngineClosed
	}
	e.startedOnce.Do(func() {
		go func() {
			select {
			case <-ctx.Done():
				e.Close()
			case <-e.ctx.Done():
			}
		}()
		e.RaiseSystemEvent(EventStartup)
	})
	return nil
}

// Close stops and unregisters every trigger and waits for their OS resources to be
// released. It is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		all := make([]*registered, 0, len(e.triggers))
		for _, r := range e.triggers {
			all = append(all, r)
		}
		e.triggers = make(map[string]*registered)
		e.mu.Unlock()

		for _, r := range all {
			e.teardown(r)
		}
		e.keys.close()
		e.cancel()

		e.subsMu.Lock()
		for id, ch := range e.subs {
			close(ch)
			delete(e.subs, id)
		}
		e.subsMu.Unlock()
		e.log.Info("trigger engine closed", logging.F("triggers", len(all)))
	})
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// RegisterTrigger adds t to the registry and, unless it is inactive or a Button, starts
// its detection. A name already registered is rejected with false and
// ErrDuplicateTrigger; the registry is left unchanged.
func (e *Engine) RegisterTrigger(t *Trigger) (bool, error) {
	if t == nil {
		return false, fmt.Errorf("%w: nil trigger", ErrInvalidTrigger)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, ErrEngineClosed
	}
	if _, exists := e.triggers[t.desc.Name]; exists {
		return false, fmt.Errorf("%w: %s", ErrDuplicateTrigger, t.desc.Name)
	}

	r := e.newRegistered(t)
	if t.source.alwaysOn() && !t.desc.Inactive {
		if err := e.startLocked(r); err != nil {
			r.shutdown()
			return false, fmt.Errorf("failed to start trigger %s: %w", t.desc.Name, err)
		}
	}
	e.triggers[t.desc.Name] = r
	e.log.Info("trigger registered",
		logging.F("trigger", t.desc.Name),
		logging.F("trigger_kind", string(t.desc.Kind)),
		logging.F("state", r.state.String()))
	return true, nil
}

// Register creates and registers a trigger from d.
func (e *Engine) Register(d Descriptor) (bool, error) {
	t, err := CreateTrigger(d)
	if err != nil {
		return false, err
	}
	return e.RegisterTrigger(t)
}

// UnregisterTrigger stops detection, releases the trigger's OS resources and removes
// it. Unknown names are ignored.
func (e *Engine) UnregisterTrigger(name string) {
	e.mu.Lock()
	r, ok := e.triggers[name]
	if ok {
		delete(e.triggers, name)
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	e.teardown(r)
	e.log.Info("trigger unregistered", logging.F("trigger", name))
}

func (e *Engine) teardown(r *registered) {
	e.mu.Lock()
	e.stopLocked(r)
	e.mu.Unlock()
	r.shutdown()
}

// StartTrigger starts detection for a registered trigger.
func (e *Engine) StartTrigger(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.triggers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTriggerNotFound, name)
	}
	return e.startLocked(r)
}

// StopTrigger stops detection for a registered trigger without removing it.
func (e *Engine) StopTrigger(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.triggers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTriggerNotFound, name)
	}
	e.stopLocked(r)
	return nil
}

func (e *Engine) startLocked(r *registered) error {
	if r.state == Started {
		return nil
	}
	env := sourceEnv{
		ctx:          r.ctx,
		host:         e.host,
		keys:         e.keys,
		log:          r.log,
		pollInterval: e.defaultPoll,
	}
	stop, err := r.t.source.start(env, r.t.desc.Name, r.detect)
	if err != nil {
		return err
	}
	r.stopSource = stop
	r.state = Started
	r.started.Store(true)
	return nil
}

func (e *Engine) stopLocked(r *registered) {
	if r.state != Started {
		return
	}
	r.started.Store(false)
	if r.stopSource != nil {
		r.stopSource()
		r.stopSource = nil
	}
	r.state = Stopped
}

// GetTriggerNames returns the registered trigger names in sorted order.
func (e *Engine) GetTriggerNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.triggers))
	for name := range e.triggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetActiveTriggers returns the descriptors of started triggers, sorted by name.
func (e *Engine) GetActiveTriggers() []Descriptor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Descriptor
	for _, r := range e.triggers {
		if r.state == Started {
			out = append(out, r.t.desc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetTrigger returns a registered trigger's descriptor and state.
func (e *Engine) GetTrigger(name string) (Info, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.triggers[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrTriggerNotFound, name)
	}
	return Info{Descriptor: r.t.desc.Clone(), State: r.state}, nil
}

// Len returns the number of registered triggers.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.triggers)
}

// CanExecute reports whether name is a Button trigger that Fire would run.
func (e *Engine) CanExecute(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.triggers[name]
	if !ok {
		return false
	}
	d := r.t.desc
	return d.Kind == Button && !d.Inactive && r.state != Stopped && len(d.Actions) > 0
}

// CanStart reports whether name is registered and not currently started.
func (e *Engine) CanStart(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.triggers[name]
	return ok && r.state != Started
}

// Fire runs a Button trigger as if it were clicked and waits for its activation.
func (e *Engine) Fire(ctx context.Context, name string) (*event.Activation, error) {
	e.mu.RLock()
	r, ok := e.triggers[name]
	closed := e.closed
	e.mu.RUnlock()

	switch {
	case closed:
		return nil, ErrEngineClosed
	case !ok:
		return nil, fmt.Errorf("%w: %s", ErrTriggerNotFound, name)
	case r.t.desc.Kind != Button:
		return nil, fmt.Errorf("%w: %s is a %s trigger", ErrNotManual, name, r.t.desc.Kind)
	case !e.CanExecute(name):
		return nil, fmt.Errorf("%w: %s is inactive, stopped or has no actions", ErrNotManual, name)
	}

	reply := make(chan *event.Activation, 1)
	if !r.enqueue(request{source: "manual", manual: true, reply: reply}) {
		return nil, fmt.Errorf("trigger %s is busy", name)
	}
	select {
	case act := <-reply:
		return act, nil
	case <-r.done:
		return nil, fmt.Errorf("trigger %s was unregistered", name)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RaiseSystemEvent delivers a named system event to every started SystemEvent trigger
// listening for it (names compare case-insensitively) and returns how many were notified.
func (e *Engine) RaiseSystemEvent(name string) int {
	e.mu.RLock()
	var targets []*registered
	for _, r := range e.triggers {
		if r.t.desc.Kind == SystemEvent && r.state == Started && strings.EqualFold(r.t.desc.EventName, name) {
			targets = append(targets, r)
		}
	}
	e.mu.RUnlock()

	for _, r := range targets {
		r.detect("system event " + name)
	}
	e.log.Debug("system event raised", logging.F("event", name), logging.F("triggers", len(targets)))
	return len(targets)
}

// ReplaceAll swaps the whole registry for ds. Every descriptor is validated first, so a
// configuration error leaves the current triggers running. Start errors for individual
// triggers are joined and returned after the rest are registered.
func (e *Engine) ReplaceAll(ds []Descriptor) error {
	created := make([]*Trigger, 0, len(ds))
	seen := make(map[string]bool, len(ds))
	for _, d := range ds {
		t, err := CreateTrigger(d)
		if err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateTrigger, d.Name)
		}
		seen[d.Name] = true
		created = append(created, t)
	}
	if e.isClosed() {
		return ErrEngineClosed
	}

	for _, name := range e.GetTriggerNames() {
		e.UnregisterTrigger(name)
	}
	var errs []error
	for _, t := range created {
		if _, err := e.RegisterTrigger(t); err != nil {
			errs = append(errs, err)
		}
	}
	e.RaiseSystemEvent(EventProfileReloaded)
	return errors.Join(errs...)
}

// Subscribe returns a channel of fired activations. Slow subscribers miss activations
// rather than stall triggers. The channel is closed by cancel or by Close.
func (e *Engine) Subscribe(buffer int) (<-chan *event.Activation, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan *event.Activation, buffer)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if e.isClosed() {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
}

// ExecuteAction runs a single action directly, outside any trigger.
func (e *Engine) ExecuteAction(ctx context.Context, a action.Descriptor) action.Result {
	return e.dispatcher.Execute(ctx, a)
}

// ExecuteMultipleActions runs independent actions concurrently.
func (e *Engine) ExecuteMultipleActions(ctx context.Context, as []action.Descriptor) []action.Result {
	return e.dispatcher.ExecuteMultipleActions(ctx, as)
}

// KeyboardHookActive reports whether the shared keyboard hook is installed.
func (e *Engine) KeyboardHookActive() bool {
	return e.keys.active()
}

func (e *Engine) publish(act *event.Activation) {
	e.subsMu.Lock()
	for _, ch := range e.subs {
		select {
		case ch <- act:
		default:
		}
	}
	e.subsMu.Unlock()

	if e.sink != nil {
		if err := e.sink.Publish(e.ctx, act); err != nil {
			e.log.Warn("failed to publish activation", logging.F("trigger", act.Trigger), logging.Err(err))
		}
	}
}
