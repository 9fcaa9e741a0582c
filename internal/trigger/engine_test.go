package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apptrigger/internal/action"
	"apptrigger/internal/condition"
	"apptrigger/internal/event"
	"apptrigger/internal/hook"
	"apptrigger/internal/system"
	"apptrigger/internal/system/systemtest"
)

type fakeStarter struct {
	mu    sync.Mutex
	host  *systemtest.Host
	specs []action.LaunchSpec
	err   error
}

func (f *fakeStarter) Start(_ context.Context, spec action.LaunchSpec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return 0, f.err
	}
	return f.host.Procs.Start(system.NormalizeName(spec.Path), 0), nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

type fakeHook struct {
	mu         sync.Mutex
	cb         hook.Callback
	installErr error
	installs   int
	uninstalls int
}

func (f *fakeHook) Install(cb hook.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return f.installErr
	}
	f.installs++
	f.cb = cb
	return nil
}

func (f *fakeHook) Uninstall() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalls++
	f.cb = nil
	return nil
}

func (f *fakeHook) press(k hook.Key, down bool) bool {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb == nil {
		return false
	}
	return cb(hook.RawEvent{VK: uint32(k), Down: down, Time: time.Now()})
}

func (f *fakeHook) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installs, f.uninstalls
}

type testEngine struct {
	*Engine
	host    *systemtest.Host
	starter *fakeStarter
	hook    *fakeHook
}

func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()
	host := systemtest.NewHost()
	starter := &fakeStarter{host: host}
	fh := &fakeHook{}
	watcher := hook.NewWatcher(hook.WithHookFactory(func() hook.Hook { return fh }))

	opts = append([]Option{
		WithHost(host.Host),
		WithHookWatcher(watcher),
		WithDefaultPollInterval(5 * time.Millisecond),
		WithActionOptions(action.WithStarter(starter), action.WithClosePoll(time.Millisecond)),
	}, opts...)
	e := NewEngine(opts...)
	t.Cleanup(func() { e.Close() })
	return &testEngine{Engine: e, host: host, starter: starter, hook: fh}
}

func launch(path string) action.Descriptor {
	return action.Descriptor{Kind: action.Launch, ExecutablePath: path}
}

func button(name string, actions ...action.Descriptor) Descriptor {
	return Descriptor{Name: name, Kind: Button, Actions: actions}
}

func receive(t *testing.T, ch <-chan *event.Activation) *event.Activation {
	t.Helper()
	select {
	case act := <-ch:
		return act
	case <-time.After(2 * time.Second):
		t.Fatal("no activation received")
		return nil
	}
}

func TestCreateTrigger(t *testing.T) {
	for _, kind := range Kinds {
		d := Descriptor{Name: "t", Kind: kind, Key: "Ctrl+K", ProcessName: "notepad", Port: 8080, EventName: "startup"}
		tr, err := CreateTrigger(d)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, tr.Kind())
	}

	_, err := CreateTrigger(Descriptor{Name: "t", Kind: "Gesture"})
	require.ErrorIs(t, err, ErrUnsupportedTriggerType)
	assert.Contains(t, err.Error(), "Gesture")

	_, err = CreateTrigger(Descriptor{Name: "t", Kind: Keybind, Key: "Ctrl+Nope"})
	assert.ErrorIs(t, err, ErrInvalidTrigger)

	_, err = CreateTrigger(Descriptor{Name: "t", Kind: NetworkPort, Port: 70000})
	assert.ErrorIs(t, err, ErrInvalidTrigger)

	_, err = CreateTrigger(button("t", action.Descriptor{Kind: action.Launch}))
	assert.ErrorIs(t, err, action.ErrInvalidAction)
}

func TestCreateTriggerCopiesDescriptor(t *testing.T) {
	d := button("copy", launch("notepad"))
	tr, err := CreateTrigger(d)
	require.NoError(t, err)

	d.Actions[0].ExecutablePath = "calc"
	assert.Equal(t, "notepad", tr.Descriptor().Actions[0].ExecutablePath)
}

func TestRegisterTriggerRejectsDuplicates(t *testing.T) {
	e := newTestEngine(t)

	ok, err := e.Register(button("dup", launch("notepad")))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Register(button("dup", launch("calc")))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrDuplicateTrigger)
	assert.Equal(t, 1, e.Len())

	info, err := e.GetTrigger("dup")
	require.NoError(t, err)
	assert.Equal(t, "notepad", info.Descriptor.Actions[0].ExecutablePath)
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	e := newTestEngine(t)
	assert.NotPanics(t, func() { e.UnregisterTrigger("missing") })
	assert.Zero(t, e.Len())
}

func TestTriggerStates(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Register(button("button", launch("notepad")))
	require.NoError(t, err)
	_, err = e.Register(Descriptor{Name: "event", Kind: SystemEvent, EventName: "resume"})
	require.NoError(t, err)
	_, err = e.Register(Descriptor{Name: "off", Kind: SystemEvent, EventName: "resume", Inactive: true})
	require.NoError(t, err)

	states := map[string]State{}
	for _, name := range e.GetTriggerNames() {
		info, err := e.GetTrigger(name)
		require.NoError(t, err)
		states[name] = info.State
	}
	assert.Equal(t, map[string]State{"button": Registered, "event": Started, "off": Registered}, states)
	assert.Equal(t, []string{"button", "event", "off"}, e.GetTriggerNames())

	active := e.GetActiveTriggers()
	require.Len(t, active, 1)
	assert.Equal(t, "event", active[0].Name)

	assert.True(t, e.CanExecute("button"))
	assert.False(t, e.CanExecute("event"))
	assert.False(t, e.CanStart("event"))
	assert.True(t, e.CanStart("off"))

	require.NoError(t, e.StopTrigger("event"))
	info, _ := e.GetTrigger("event")
	assert.Equal(t, Stopped, info.State)
	assert.True(t, e.CanStart("event"))

	require.NoError(t, e.StartTrigger("event"))
	info, _ = e.GetTrigger("event")
	assert.Equal(t, Started, info.State)

	assert.ErrorIs(t, e.StartTrigger("missing"), ErrTriggerNotFound)
	_, err = e.GetTrigger("missing")
	assert.ErrorIs(t, err, ErrTriggerNotFound)
}

// TestButtonLaunchEndToEnd fires a Button trigger by hand, checks the launched process
// is running, and checks an unregistered trigger can no longer fire.
func TestButtonLaunchEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	ok, err := e.Register(button("open-editor", launch("notepad")))
	require.NoError(t, err)
	require.True(t, ok)

	act, err := e.Fire(context.Background(), "open-editor")
	require.NoError(t, err)
	assert.True(t, act.Fired)
	require.Len(t, act.Actions, 1)
	assert.True(t, act.Actions[0].Success)
	assert.Equal(t, 1, e.host.Procs.Count("notepad"))

	e.UnregisterTrigger("open-editor")
	_, err = e.Fire(context.Background(), "open-editor")
	assert.ErrorIs(t, err, ErrTriggerNotFound)
	assert.Equal(t, 1, e.starter.count())
}

func TestFireRejectsNonButtons(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Register(Descriptor{Name: "event", Kind: SystemEvent, EventName: "resume", Actions: []action.Descriptor{launch("x")}})
	require.NoError(t, err)
	_, err = e.Register(button("empty"))
	require.NoError(t, err)

	_, err = e.Fire(context.Background(), "event")
	assert.ErrorIs(t, err, ErrNotManual)
	_, err = e.Fire(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNotManual)
}

func TestTriggerConditionsGateActions(t *testing.T) {
	e := newTestEngine(t)
	d := button("gated", launch("notepad"))
	d.Conditions = []condition.Descriptor{{Kind: condition.ProcessRunning, ProcessName: "vpn"}}
	_, err := e.Register(d)
	require.NoError(t, err)

	act, err := e.Fire(context.Background(), "gated")
	require.NoError(t, err)
	assert.False(t, act.Fired)
	assert.Empty(t, act.Actions)
	assert.Zero(t, e.starter.count())

	e.host.Procs.Start("vpn", 0)
	act, err = e.Fire(context.Background(), "gated")
	require.NoError(t, err)
	assert.True(t, act.Fired)
	assert.Equal(t, 1, e.starter.count())
}

func TestPreviousActionSuccessCarriedThroughSequence(t *testing.T) {
	gated := action.Descriptor{
		Kind:       action.Close,
		Target:     "editor",
		Conditions: []condition.Descriptor{{Kind: condition.PreviousActionSuccess}},
	}

	t.Run("launch fails", func(t *testing.T) {
		e := newTestEngine(t)
		e.starter.err = errors.New("no such file")
		e.host.Procs.Start("editor", 0)
		_, err := e.Register(button("seq", launch("editor"), gated))
		require.NoError(t, err)

		act, err := e.Fire(context.Background(), "seq")
		require.NoError(t, err)
		require.Len(t, act.Actions, 2)
		assert.False(t, act.Actions[0].Success)
		assert.False(t, act.Actions[1].Executed)
		assert.Equal(t, 1, e.host.Procs.Count("editor"))
	})

	t.Run("launch succeeds", func(t *testing.T) {
		e := newTestEngine(t)
		_, err := e.Register(button("seq", launch("editor"), gated))
		require.NoError(t, err)

		act, err := e.Fire(context.Background(), "seq")
		require.NoError(t, err)
		require.Len(t, act.Actions, 2)
		assert.True(t, act.Actions[1].Executed)
		assert.True(t, act.Actions[1].Success)
		assert.Zero(t, e.host.Procs.Count("editor"))
	})
}

func TestRaiseSystemEvent(t *testing.T) {
	e := newTestEngine(t)
	acts, cancel := e.Subscribe(4)
	defer cancel()

	_, err := e.Register(Descriptor{Name: "on-resume", Kind: SystemEvent, EventName: "Resume", Actions: []action.Descriptor{launch("mail")}})
	require.NoError(t, err)
	_, err = e.Register(Descriptor{Name: "other", Kind: SystemEvent, EventName: "suspend", Actions: []action.Descriptor{launch("x")}})
	require.NoError(t, err)

	assert.Equal(t, 1, e.RaiseSystemEvent("resume"))
	act := receive(t, acts)
	assert.Equal(t, "on-resume", act.Trigger)
	assert.Equal(t, "system event resume", act.Source)

	require.NoError(t, e.StopTrigger("on-resume"))
	assert.Zero(t, e.RaiseSystemEvent("resume"))
}

func TestStartRaisesStartupEvent(t *testing.T) {
	e := newTestEngine(t)
	acts, cancel := e.Subscribe(1)
	defer cancel()
	_, err := e.Register(Descriptor{Name: "boot", Kind: SystemEvent, EventName: EventStartup, Actions: []action.Descriptor{launch("agent")}})
	require.NoError(t, err)

	ctx, stop := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, "boot", receive(t, acts).Trigger)

	stop()
	assert.Eventually(t, func() bool { return e.isClosed() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, e.Start(context.Background()), ErrEngineClosed)
}

func TestCooldownSuppressesRepeatedDetections(t *testing.T) {
	e := newTestEngine(t)
	acts, cancel := e.Subscribe(8)
	defer cancel()
	_, err := e.Register(Descriptor{Name: "cool", Kind: SystemEvent, EventName: "ping", CooldownMs: 60_000, Actions: []action.Descriptor{launch("x")}})
	require.NoError(t, err)

	e.RaiseSystemEvent("ping")
	receive(t, acts)
	e.RaiseSystemEvent("ping")

	select {
	case act := <-acts:
		t.Fatalf("unexpected activation %v", act.ID)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, e.starter.count())
}

func TestAppLaunchTriggerFiresOncePerStart(t *testing.T) {
	e := newTestEngine(t)
	acts, cancel := e.Subscribe(8)
	defer cancel()

	_, err := e.Register(Descriptor{Name: "game", Kind: AppLaunch, ProcessName: "game", PollingIntervalMs: 2, Actions: []action.Descriptor{{Kind: action.Close, Target: "chat"}}})
	require.NoError(t, err)
	_, err = e.Register(Descriptor{Name: "game-closed", Kind: AppClose, ProcessName: "game", PollingIntervalMs: 2})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	e.host.Procs.Start("chat", 0)
	pid := e.host.Procs.Start("game", 0)
	act := receive(t, acts)
	assert.Equal(t, "game", act.Trigger)
	assert.Zero(t, e.host.Procs.Count("chat"))

	time.Sleep(30 * time.Millisecond)
	e.host.Procs.Stop(pid)
	assert.Equal(t, "game-closed", receive(t, acts).Trigger)

	select {
	case extra := <-acts:
		t.Fatalf("unexpected activation of %s", extra.Trigger)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestNetworkPortTrigger(t *testing.T) {
	e := newTestEngine(t)
	acts, cancel := e.Subscribe(4)
	defer cancel()

	_, err := e.Register(Descriptor{Name: "db-up", Kind: NetworkPort, Port: 5432, PollingIntervalMs: 2})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	e.host.PortSet.SetOpen("127.0.0.1", 5432, true)
	act := receive(t, acts)
	assert.Equal(t, "db-up", act.Trigger)
	assert.Contains(t, act.Source, "opened")
}

func TestKeybindSharesOneHook(t *testing.T) {
	e := newTestEngine(t)
	acts, cancel := e.Subscribe(4)
	defer cancel()

	_, err := e.Register(Descriptor{Name: "editor", Kind: Keybind, Key: "Ctrl+E", EatKey: true, Actions: []action.Descriptor{launch("editor")}})
	require.NoError(t, err)
	_, err = e.Register(Descriptor{Name: "term", Kind: Keybind, Key: "T", Modifiers: []string{"Ctrl", "Alt"}})
	require.NoError(t, err)

	installs, _ := e.hook.counts()
	assert.Equal(t, 1, installs)
	assert.True(t, e.KeyboardHookActive())

	e.hook.press(hook.KeyControl, true)
	assert.True(t, e.hook.press(hook.Key('E'), true), "bound chord with eat_key is suppressed")
	assert.True(t, e.hook.press(hook.Key('E'), true), "auto-repeat of the chord is suppressed too")
	e.hook.press(hook.Key('E'), false)
	e.hook.press(hook.KeyControl, false)

	act := receive(t, acts)
	assert.Equal(t, "editor", act.Trigger)
	assert.Equal(t, 1, e.host.Procs.Count("editor"))

	assert.False(t, e.hook.press(hook.Key('E'), true), "without Ctrl the chord does not match")

	e.UnregisterTrigger("editor")
	assert.True(t, e.KeyboardHookActive())
	e.UnregisterTrigger("term")
	assert.False(t, e.KeyboardHookActive())
	_, uninstalls := e.hook.counts()
	assert.Equal(t, 1, uninstalls)
}

func TestKeybindInstallFailureFailsRegistration(t *testing.T) {
	e := newTestEngine(t)
	e.hook.installErr = &hook.HookError{Op: "install", Code: 5, Err: errors.New("access denied")}

	ok, err := e.Register(Descriptor{Name: "k", Kind: Keybind, Key: "F9"})
	assert.False(t, ok)
	var hookErr *hook.HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, uint32(5), hookErr.Code)
	assert.Zero(t, e.Len())
	assert.False(t, e.KeyboardHookActive())
}

func TestReplaceAll(t *testing.T) {
	e := newTestEngine(t)
	acts, cancel := e.Subscribe(4)
	defer cancel()
	_, err := e.Register(button("old", launch("x")))
	require.NoError(t, err)

	err = e.ReplaceAll([]Descriptor{button("bad", action.Descriptor{Kind: "Teleport"})})
	require.Error(t, err)
	assert.Equal(t, []string{"old"}, e.GetTriggerNames())

	err = e.ReplaceAll([]Descriptor{button("a", launch("x")), button("a", launch("y"))})
	require.ErrorIs(t, err, ErrDuplicateTrigger)

	require.NoError(t, e.ReplaceAll([]Descriptor{
		button("new", launch("x")),
		{Name: "reloaded", Kind: SystemEvent, EventName: EventProfileReloaded},
	}))
	assert.Equal(t, []string{"new", "reloaded"}, e.GetTriggerNames())
	assert.Equal(t, "reloaded", receive(t, acts).Trigger)
}

func TestReloadDuringGracefulCloseDoesNotKill(t *testing.T) {
	e := newTestEngine(t)
	pid := e.host.Procs.Start("editor", 0)
	e.host.Procs.SetStubborn(pid)

	_, err := e.Register(button("close-editor", action.Descriptor{
		Kind: action.Close, Target: "editor", Force: true, TimeoutMs: 5000,
	}))
	require.NoError(t, err)

	fired := make(chan error, 1)
	go func() {
		_, err := e.Fire(context.Background(), "close-editor")
		fired <- err
	}()
	require.Eventually(t, func() bool {
		return len(e.host.Procs.TerminatedPIDs()) == 1
	}, 2*time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, e.ReplaceAll(nil))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Empty(t, e.host.Procs.KilledPIDs())
	assert.True(t, e.host.Procs.Alive(pid))
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Fire did not return after the trigger was replaced")
	}
}

func TestSinkReceivesActivations(t *testing.T) {
	sink := &recordingSink{}
	e := newTestEngine(t, WithSink(sink))
	_, err := e.Register(button("b", launch("x")))
	require.NoError(t, err)

	_, err = e.Fire(context.Background(), "b")
	require.NoError(t, err)
	assert.Len(t, sink.all(), 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	acts, _ := e.Subscribe(1)
	_, err := e.Register(Descriptor{Name: "k", Kind: Keybind, Key: "F9"})
	require.NoError(t, err)
	_, err = e.Register(Descriptor{Name: "p", Kind: AppLaunch, ProcessName: "x", PollingIntervalMs: 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Close())
		}()
	}
	wg.Wait()

	assert.Zero(t, e.Len())
	assert.False(t, e.KeyboardHookActive())
	_, open := <-acts
	assert.False(t, open)

	ok, err := e.Register(button("late", launch("x")))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.Fire(context.Background(), "late")
	assert.ErrorIs(t, err, ErrEngineClosed)
}

func TestExecuteMultipleActions(t *testing.T) {
	e := newTestEngine(t, WithMaxParallel(2))
	results := e.ExecuteMultipleActions(context.Background(), []action.Descriptor{launch("a"), launch("b"), launch("c")})
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success)
	}

	r := e.ExecuteAction(context.Background(), action.Descriptor{Kind: action.Focus, Target: "nothing"})
	assert.False(t, r.Executed)
	assert.ErrorIs(t, r.Err, system.ErrNoWindow)
}

type recordingSink struct {
	mu  sync.Mutex
	got []*event.Activation
}

func (s *recordingSink) Publish(_ context.Context, a *event.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, a)
	return nil
}

func (s *recordingSink) all() []*event.Activation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*event.Activation(nil), s.got...)
}
