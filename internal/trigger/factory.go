package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"apptrigger/internal/hook"
	"apptrigger/internal/logging"
	"apptrigger/internal/system"
	"apptrigger/internal/watch"
)

const defaultProbeTimeout = time.Second

// Trigger is a descriptor bound to the detection source its kind calls for. Creating
// one acquires nothing; the source is started by the engine.
type Trigger struct {
	desc   Descriptor
	source source
}

// Name returns the trigger name.
func (t *Trigger) Name() string { return t.desc.Name }

// Kind returns the trigger kind.
func (t *Trigger) Kind() Kind { return t.desc.Kind }

// Descriptor returns a copy of the trigger's descriptor.
func (t *Trigger) Descriptor() Descriptor { return t.desc.Clone() }

// CreateTrigger builds a trigger for d by kind. It has no side effects.
func CreateTrigger(d Descriptor) (*Trigger, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	t := &Trigger{desc: d.Clone()}
	interval := time.Duration(d.PollingIntervalMs) * time.Millisecond

	switch d.Kind {
	case Keybind:
		chord, _ := d.Chord()
		t.source = keySource{chord: chord, eat: d.EatKey}
	case AppLaunch:
		t.source = processSource{name: d.ProcessName, on: watch.Started, interval: interval}
	case AppClose:
		t.source = processSource{name: d.ProcessName, on: watch.Stopped, interval: interval}
	case NetworkPort:
		on, _ := d.portTransition()
		timeout := time.Duration(d.TimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = defaultProbeTimeout
		}
		t.source = portSource{address: d.Address, port: d.Port, on: on, interval: interval, timeout: timeout}
	case SystemEvent:
		t.source = passiveSource{}
	case Button:
		t.source = buttonSource{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTriggerType, d.Kind)
	}
	return t, nil
}

// sourceEnv is what a detection source may use while running.
type sourceEnv struct {
	ctx          context.Context
	host         *system.Host
	keys         *keyRouter
	log          logging.Logger
	pollInterval time.Duration
}

// fireFunc hands a detection to the trigger's worker. It never blocks.
type fireFunc func(detail string)

// source is a detection mechanism. start acquires the OS resources; the returned stop
// releases them and returns only once no further fire can happen.
type source interface {
	start(env sourceEnv, name string, fire fireFunc) (stop func(), err error)
	// alwaysOn reports whether registration starts detection immediately.
	alwaysOn() bool
}

type keySource struct {
	chord hook.Chord
	eat   bool
}

func (s keySource) start(env sourceEnv, name string, fire fireFunc) (func(), error) {
	if err := env.keys.bind(name, s.chord, s.eat, fire); err != nil {
		return nil, err
	}
	return func() { env.keys.unbind(name) }, nil
}

func (keySource) alwaysOn() bool { return true }

type processSource struct {
	name     string
	on       watch.Transition
	interval time.Duration
}

func (s processSource) start(env sourceEnv, _ string, fire fireFunc) (func(), error) {
	interval := s.interval
	if interval <= 0 {
		interval = env.pollInterval
	}
	p, err := watch.WatchProcess(env.ctx, env.host.Processes, s.name, interval, env.log, func(ev watch.Event) {
		if ev.Transition == s.on {
			fire(fmt.Sprintf("process %s %s", ev.Target, strings.ToLower(ev.Transition.String())))
		}
	})
	if err != nil {
		return nil, err
	}
	return p.Stop, nil
}

func (processSource) alwaysOn() bool { return true }

type portSource struct {
	address  string
	port     int
	on       watch.Transition
	interval time.Duration
	timeout  time.Duration
}

func (s portSource) start(env sourceEnv, _ string, fire fireFunc) (func(), error) {
	interval := s.interval
	if interval <= 0 {
		interval = env.pollInterval
	}
	p, err := watch.WatchPort(env.ctx, env.host.Ports, s.address, s.port, interval, s.timeout, env.log, func(ev watch.Event) {
		if ev.Transition == s.on {
			fire(fmt.Sprintf("port %s %s", ev.Target, strings.ToLower(ev.Transition.String())))
		}
	})
	if err != nil {
		return nil, err
	}
	return p.Stop, nil
}

func (portSource) alwaysOn() bool { return true }

// passiveSource holds no OS resource: SystemEvent triggers are fed by RaiseSystemEvent
// and Button triggers by Fire.
type passiveSource struct{}

func (passiveSource) start(sourceEnv, string, fireFunc) (func(), error) {
	return func() {}, nil
}

func (passiveSource) alwaysOn() bool { return true }

// buttonSource stays idle after registration until the trigger is fired by hand.
type buttonSource struct{ passiveSource }

func (buttonSource) alwaysOn() bool { return false }
