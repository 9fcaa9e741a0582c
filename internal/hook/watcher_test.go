package hook

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHook struct {
	mu          sync.Mutex
	cb          Callback
	installErr  error
	uninstalls  int
	installed   bool
	uninstallFn func() error
}

func (f *fakeHook) Install(cb Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return f.installErr
	}
	f.cb = cb
	f.installed = true
	return nil
}

func (f *fakeHook) Uninstall() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalls++
	f.installed = false
	if f.uninstallFn != nil {
		return f.uninstallFn()
	}
	return nil
}

// press delivers a raw event the way the OS would, but only while installed.
func (f *fakeHook) press(vk Key, down bool) (eaten, delivered bool) {
	f.mu.Lock()
	cb, installed := f.cb, f.installed
	f.mu.Unlock()
	if !installed {
		return false, false
	}
	return cb(RawEvent{VK: uint32(vk), Down: down, Time: time.Now()}), true
}

func (f *fakeHook) tap(vk Key) {
	f.press(vk, true)
	f.press(vk, false)
}

func newFakeWatcher(opts ...WatcherOption) (*Watcher, *fakeHook) {
	fh := &fakeHook{}
	opts = append([]WatcherOption{WithHookFactory(func() Hook { return fh })}, opts...)
	return NewWatcher(opts...), fh
}

func drain(h *Handle) []KeyEvent {
	var out []KeyEvent
	for {
		select {
		case ev := <-h.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestWatcherForwardsFilteredKeys(t *testing.T) {
	w, fh := newFakeWatcher()
	h, err := w.Start(NewKeySet('K'))
	require.NoError(t, err)
	defer h.Stop()

	fh.tap('J')
	fh.tap('K')

	events := drain(h)
	require.Len(t, events, 2)
	assert.Equal(t, Key('K'), events[0].Key)
	assert.True(t, events[0].Down)
	assert.False(t, events[1].Down)
}

func TestWatcherNilFilterForwardsEverything(t *testing.T) {
	w, fh := newFakeWatcher()
	h, err := w.Start(nil)
	require.NoError(t, err)
	defer h.Stop()

	fh.tap('A')
	fh.tap(KeyF1)
	assert.Len(t, drain(h), 4)
}

func TestWatcherTracksModifiersAndRepeat(t *testing.T) {
	w, fh := newFakeWatcher()
	h, err := w.Start(NewKeySet('K'))
	require.NoError(t, err)
	defer h.Stop()

	fh.press(KeyLControl, true)
	fh.press(KeyRMenu, true)
	fh.press('K', true)
	fh.press('K', true)
	fh.press('K', false)
	fh.press(KeyRMenu, false)
	fh.press(KeyLControl, false)
	fh.press('K', true)

	events := drain(h)
	require.Len(t, events, 4)

	chord, err := ParseChord("Ctrl+Alt+K")
	require.NoError(t, err)
	assert.True(t, chord.Matches(events[0]))
	assert.False(t, events[0].Repeat)
	assert.True(t, events[1].Repeat)
	assert.False(t, chord.Matches(events[3]), "modifiers were released")
	assert.Equal(t, Modifiers(0), events[3].Modifiers)
}

func TestWatcherEatDecision(t *testing.T) {
	w, fh := newFakeWatcher()
	h, err := w.Start(NewKeySet('K', 'L'))
	require.NoError(t, err)
	defer h.Stop()

	eaten, _ := fh.press('K', true)
	assert.False(t, eaten, "default is not to eat")

	h.SetEat(func(ev KeyEvent) bool { return ev.Key == 'K' })
	eaten, _ = fh.press('K', true)
	assert.True(t, eaten)
	eaten, _ = fh.press('L', true)
	assert.False(t, eaten)
	eaten, _ = fh.press('M', true)
	assert.False(t, eaten, "unfiltered keys are never eaten")
}

func TestWatcherDropsWhenQueueFull(t *testing.T) {
	w, fh := newFakeWatcher(WithBuffer(2))
	h, err := w.Start(nil)
	require.NoError(t, err)
	defer h.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			fh.tap('A')
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback blocked on a full queue")
	}
	assert.Len(t, drain(h), 2)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, fh := newFakeWatcher()
	h, err := w.Start(NewKeySet('K'))
	require.NoError(t, err)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	assert.Equal(t, 1, fh.uninstalls)

	_, delivered := fh.press('K', true)
	assert.False(t, delivered)
	assert.Empty(t, drain(h))

	select {
	case <-h.Done():
	default:
		t.Fatal("done not closed after Stop")
	}
}

func TestWatcherStopIgnoresLateCallbacks(t *testing.T) {
	w, fh := newFakeWatcher()
	h, err := w.Start(nil)
	require.NoError(t, err)
	cb := fh.cb

	require.NoError(t, h.Stop())
	assert.False(t, cb(RawEvent{VK: 'K', Down: true}))
	assert.Empty(t, drain(h))
}

func TestWatcherInstallFailureIsReturned(t *testing.T) {
	fh := &fakeHook{installErr: &HookError{Op: "install", Code: 5, Err: errors.New("access denied")}}
	w := NewWatcher(WithHookFactory(func() Hook { return fh }))

	h, err := w.Start(nil)
	assert.Nil(t, h)
	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, uint32(5), hookErr.Code)
	assert.Contains(t, err.Error(), "code 5")
}

func TestWatcherUninstallErrorReportedOnce(t *testing.T) {
	fh := &fakeHook{uninstallFn: func() error { return &HookError{Op: "uninstall", Code: 1404, Err: errors.New("invalid hook handle")} }}
	w := NewWatcher(WithHookFactory(func() Hook { return fh }))
	h, err := w.Start(nil)
	require.NoError(t, err)

	first := h.Stop()
	assert.Error(t, first)
	assert.Equal(t, first, h.Stop())
	assert.Equal(t, 1, fh.uninstalls)
}
