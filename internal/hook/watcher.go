package hook

import (
	"sync"
	"sync/atomic"

	"apptrigger/internal/logging"
	"apptrigger/internal/metrics"
)

const defaultBuffer = 64

// KeySet is a set of keys to forward. A nil KeySet forwards everything.
type KeySet map[Key]struct{}

// NewKeySet builds a KeySet from keys.
func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Contains reports whether k is in the set.
func (s KeySet) Contains(k Key) bool {
	_, ok := s[k]
	return ok
}

// EatFunc decides, on the hook thread, whether a forwarded event is suppressed.
// It must not block.
type EatFunc func(KeyEvent) bool

// Watcher starts keyboard interception sessions over a Hook.
type Watcher struct {
	newHook func() Hook
	log     logging.Logger
	metrics metrics.Collector
	buffer  int
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithHookFactory replaces the OS hook, e.g. with a fake in tests.
func WithHookFactory(f func() Hook) WatcherOption {
	return func(w *Watcher) { w.newHook = f }
}

// WithLogger sets the watcher logger.
func WithLogger(l logging.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// WithMetrics sets the collector that counts dropped events.
func WithMetrics(m metrics.Collector) WatcherOption {
	return func(w *Watcher) { w.metrics = m }
}

// WithBuffer sets the event queue size.
func WithBuffer(n int) WatcherOption {
	return func(w *Watcher) {
		if n > 0 {
			w.buffer = n
		}
	}
}

// NewWatcher creates a watcher over the native OS hook.
func NewWatcher(opts ...WatcherOption) *Watcher {
	w := &Watcher{
		newHook: New,
		log:     logging.Nop(),
		metrics: metrics.Nop{},
		buffer:  defaultBuffer,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start installs the hook and forwards events for keys in filter (all keys when nil).
// A failed installation is returned as is, normally a *HookError; it is not retried.
func (w *Watcher) Start(filter KeySet) (*Handle, error) {
	h := &Handle{
		hook:    w.newHook(),
		events:  make(chan KeyEvent, w.buffer),
		done:    make(chan struct{}),
		log:     w.log,
		metrics: w.metrics,
	}
	h.SetFilter(filter)

	if err := h.hook.Install(h.callback); err != nil {
		return nil, err
	}
	w.log.Debug("keyboard hook installed", logging.F("filtered", filter != nil))
	return h, nil
}

// Handle is one active interception session.
type Handle struct {
	hook    Hook
	events  chan KeyEvent
	done    chan struct{}
	log     logging.Logger
	metrics metrics.Collector

	filter  atomic.Pointer[KeySet]
	eat     atomic.Pointer[EatFunc]
	stopped atomic.Bool

	stopOnce sync.Once
	stopErr  error

	// touched only from the hook thread
	down [256]bool
}

// Events returns the queue of forwarded key events. It is never closed; select on Done
// to notice Stop.
func (h *Handle) Events() <-chan KeyEvent { return h.events }

// Done is closed once Stop has completed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// SetFilter replaces the forwarded key set; nil forwards everything.
func (h *Handle) SetFilter(filter KeySet) {
	if filter == nil {
		h.filter.Store(nil)
		return
	}
	cp := make(KeySet, len(filter))
	for k := range filter {
		cp[k] = struct{}{}
	}
	h.filter.Store(&cp)
}

// SetEat installs the per-event suppression decision. nil never eats.
func (h *Handle) SetEat(fn EatFunc) {
	if fn == nil {
		h.eat.Store(nil)
		return
	}
	h.eat.Store(&fn)
}

// Stop removes the hook and waits for it to be released. Calling Stop again is a no-op.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopped.Store(true)
		h.stopErr = h.hook.Uninstall()
		close(h.done)
		if h.stopErr != nil {
			h.log.Error("failed to remove keyboard hook", logging.Err(h.stopErr))
		} else {
			h.log.Debug("keyboard hook removed")
		}
	})
	return h.stopErr
}

func (h *Handle) callback(raw RawEvent) bool {
	if h.stopped.Load() {
		return false
	}

	key := Key(raw.VK)
	repeat := raw.Down && h.down[key]
	h.down[key] = raw.Down

	if f := h.filter.Load(); f != nil && !f.Contains(key) {
		return false
	}

	ev := KeyEvent{
		Key:       key,
		Modifiers: h.modifiers(),
		Down:      raw.Down,
		Repeat:    repeat,
		Injected:  raw.Injected,
		Time:      raw.Time,
	}

	eat := false
	if fn := h.eat.Load(); fn != nil {
		eat = (*fn)(ev)
	}

	select {
	case h.events <- ev:
	default:
		h.metrics.RecordHookDrop()
	}
	return eat
}

// modifiers derives the held modifier set from the tracked key state.
func (h *Handle) modifiers() Modifiers {
	var m Modifiers
	for _, k := range []Key{
		KeyControl, KeyLControl, KeyRControl,
		KeyMenu, KeyLMenu, KeyRMenu,
		KeyShift, KeyLShift, KeyRShift,
		KeyLWin, KeyRWin,
	} {
		if h.down[k] {
			m |= k.modifier()
		}
	}
	return m
}
