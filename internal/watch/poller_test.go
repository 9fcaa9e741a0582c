package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apptrigger/internal/system/systemtest"
)

const tick = 5 * time.Millisecond

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transition, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Transition
	}
	return out
}

// waitSamples blocks until the fake process table has been listed n more times.
func waitSamples(t *testing.T, host *systemtest.Host, n int) {
	t.Helper()
	start := host.Procs.CallCount()
	require.Eventually(t, func() bool { return host.Procs.CallCount()-start >= n }, time.Second, time.Millisecond)
}

func TestProcessWatcherIsEdgeTriggered(t *testing.T) {
	host := systemtest.NewHost()
	rec := &recorder{}

	p, err := WatchProcess(context.Background(), host.Procs, "notepad", tick, nil, rec.handle)
	require.NoError(t, err)
	defer p.Stop()

	waitSamples(t, host, 3)
	assert.Empty(t, rec.transitions())

	pid := host.Procs.Start("notepad.exe", 0)
	require.Eventually(t, func() bool { return len(rec.transitions()) == 1 }, time.Second, time.Millisecond)
	waitSamples(t, host, 5)
	assert.Equal(t, []Transition{Started}, rec.transitions())

	host.Procs.Stop(pid)
	require.Eventually(t, func() bool { return len(rec.transitions()) == 2 }, time.Second, time.Millisecond)
	waitSamples(t, host, 5)
	assert.Equal(t, []Transition{Started, Stopped}, rec.transitions())
	assert.Equal(t, "notepad", rec.events[0].Target)
}

func TestBaselineDoesNotFire(t *testing.T) {
	host := systemtest.NewHost()
	host.Procs.Start("steam", 0)
	rec := &recorder{}

	p, err := WatchProcess(context.Background(), host.Procs, "steam", tick, nil, rec.handle)
	require.NoError(t, err)
	defer p.Stop()

	waitSamples(t, host, 5)
	assert.Empty(t, rec.transitions())
}

func TestSampleErrorsKeepPreviousState(t *testing.T) {
	var (
		mu    sync.Mutex
		state bool
		fail  bool
	)
	sample := func(context.Context) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return false, errors.New("enumeration failed")
		}
		return state, nil
	}
	set := func(s, f bool) {
		mu.Lock()
		defer mu.Unlock()
		state, fail = s, f
	}

	rec := &recorder{}
	p, err := StartPolling(context.Background(), Config{Target: "x", Interval: tick, Sample: sample, Up: Started, Down: Stopped}, rec.handle)
	require.NoError(t, err)
	defer p.Stop()

	time.Sleep(4 * tick)
	set(true, false)
	require.Eventually(t, func() bool { return len(rec.transitions()) == 1 }, time.Second, time.Millisecond)

	set(true, true)
	time.Sleep(10 * tick)
	set(true, false)
	time.Sleep(10 * tick)
	assert.Equal(t, []Transition{Started}, rec.transitions())
}

func TestPortWatcher(t *testing.T) {
	host := systemtest.NewHost()
	rec := &recorder{}

	p, err := WatchPort(context.Background(), host.PortSet, "", 5432, tick, time.Second, nil, rec.handle)
	require.NoError(t, err)
	defer p.Stop()
	assert.Equal(t, "127.0.0.1:5432", p.Target())

	time.Sleep(4 * tick)
	host.PortSet.SetOpen("127.0.0.1", 5432, true)
	require.Eventually(t, func() bool { return len(rec.transitions()) == 1 }, time.Second, time.Millisecond)
	host.PortSet.SetOpen("127.0.0.1", 5432, false)
	require.Eventually(t, func() bool { return len(rec.transitions()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []Transition{Opened, Closed}, rec.transitions())

	_, err = WatchPort(context.Background(), host.PortSet, "", 0, tick, time.Second, nil, rec.handle)
	assert.Error(t, err)
}

func TestStopWaitsForInFlightSample(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		n       atomic.Int32
		handled atomic.Int32
	)
	sample := func(ctx context.Context) (bool, error) {
		if n.Add(1) == 2 {
			close(entered)
			<-release
		}
		return n.Load()%2 == 0, nil
	}

	p, err := StartPolling(context.Background(), Config{Target: "slow", Interval: tick, Sample: sample, Up: Opened, Down: Closed},
		func(Event) { handled.Add(1) })
	require.NoError(t, err)

	<-entered
	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a sample was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-stopped
	after := handled.Load()
	time.Sleep(10 * tick)
	assert.Equal(t, after, handled.Load(), "handler called after Stop returned")
	assert.Zero(t, after, "a sample finishing after cancellation is discarded")

	p.Stop()
}

func TestPollersRunIndependently(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	slow := func(ctx context.Context) (bool, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return false, nil
	}

	host := systemtest.NewHost()
	slowPoller, err := StartPolling(context.Background(), Config{Target: "slow", Interval: tick, Sample: slow, Up: Started, Down: Stopped}, func(Event) {})
	require.NoError(t, err)
	defer slowPoller.Stop()

	rec := &recorder{}
	fast, err := WatchProcess(context.Background(), host.Procs, "game", tick, nil, rec.handle)
	require.NoError(t, err)
	defer fast.Stop()

	time.Sleep(4 * tick)
	host.Procs.Start("game", 0)
	require.Eventually(t, func() bool { return len(rec.transitions()) == 1 }, time.Second, time.Millisecond)
}

func TestStartPollingValidates(t *testing.T) {
	_, err := StartPolling(context.Background(), Config{Target: "x"}, func(Event) {})
	assert.Error(t, err)

	p, err := StartPolling(context.Background(), Config{Target: "x", Sample: func(context.Context) (bool, error) { return false, nil }}, func(Event) {})
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, p.Interval())
	p.Stop()
	p.Stop()
}
