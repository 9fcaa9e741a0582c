package trigger

import (
	"sync"
	"sync/atomic"

	"apptrigger/internal/hook"
	"apptrigger/internal/logging"
)

type keyBinding struct {
	name  string
	chord hook.Chord
	eat   bool
	fire  fireFunc
}

// keyRouter shares one keyboard hook between every Keybind trigger. The hook is
// installed with the first binding and removed with the last.
type keyRouter struct {
	watcher *hook.Watcher
	log     logging.Logger

	mu       sync.Mutex
	handle   *hook.Handle
	bindings map[string]keyBinding
	routed   chan struct{}

	// read on the hook thread and the routing goroutine
	snapshot atomic.Pointer[[]keyBinding]
}

func newKeyRouter(w *hook.Watcher, log logging.Logger) *keyRouter {
	return &keyRouter{
		watcher:  w,
		log:      log,
		bindings: make(map[string]keyBinding),
	}
}

func (k *keyRouter) bind(name string, chord hook.Chord, eat bool, fire fireFunc) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.bindings[name] = keyBinding{name: name, chord: chord, eat: eat, fire: fire}
	k.publish()

	if k.handle != nil {
		k.handle.SetFilter(k.keys())
		return nil
	}

	h, err := k.watcher.Start(k.keys())
	if err != nil {
		delete(k.bindings, name)
		k.publish()
		return err
	}
	h.SetEat(k.eat)
	k.handle = h
	k.routed = make(chan struct{})
	go k.route(h, k.routed)
	return nil
}

func (k *keyRouter) unbind(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.bindings[name]; !ok {
		return
	}
	delete(k.bindings, name)
	k.publish()

	if len(k.bindings) > 0 {
		k.handle.SetFilter(k.keys())
		return
	}
	k.stopLocked()
}

func (k *keyRouter) close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.bindings = make(map[string]keyBinding)
	k.publish()
	k.stopLocked()
}

func (k *keyRouter) stopLocked() {
	if k.handle == nil {
		return
	}
	if err := k.handle.Stop(); err != nil {
		k.log.Error("failed to remove keyboard hook", logging.Err(err))
	}
	<-k.routed
	k.handle = nil
	k.routed = nil
}

// active reports whether the hook is installed.
func (k *keyRouter) active() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.handle != nil
}

func (k *keyRouter) keys() hook.KeySet {
	set := make(hook.KeySet, len(k.bindings))
	for _, b := range k.bindings {
		set[b.chord.Key] = struct{}{}
	}
	return set
}

func (k *keyRouter) publish() {
	list := make([]keyBinding, 0, len(k.bindings))
	for _, b := range k.bindings {
		list = append(list, b)
	}
	k.snapshot.Store(&list)
}

func (k *keyRouter) current() []keyBinding {
	if p := k.snapshot.Load(); p != nil {
		return *p
	}
	return nil
}

// eat runs on the hook thread.
func (k *keyRouter) eat(ev hook.KeyEvent) bool {
	for _, b := range k.current() {
		if b.eat && b.chord.Matches(ev) {
			return true
		}
	}
	return false
}

// route delivers chord presses to their triggers. Auto-repeat is ignored so holding a
// chord fires once.
func (k *keyRouter) route(h *hook.Handle, routed chan<- struct{}) {
	defer close(routed)
	for {
		select {
		case <-h.Done():
			return
		case ev := <-h.Events():
			if !ev.Down || ev.Repeat {
				continue
			}
			for _, b := range k.current() {
				if b.chord.Matches(ev) {
					b.fire(ev.String())
				}
			}
		}
	}
}
