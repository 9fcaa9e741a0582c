// Package watch turns level state sampled on a timer (a process running, a port
// accepting connections) into edge-triggered transition events.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"apptrigger/internal/logging"
)

// DefaultInterval is used when a poller is configured without an interval.
const DefaultInterval = 2 * time.Second

// Transition is an edge between two sampled states.
type Transition int

const (
	Started Transition = iota + 1
	Stopped
	Opened
	Closed
)

func (t Transition) String() string {
	switch t {
	case Started:
		return "Started"
	case Stopped:
		return "Stopped"
	case Opened:
		return "Opened"
	case Closed:
		return "Closed"
	}
	return fmt.Sprintf("Transition(%d)", int(t))
}

// Event is one observed transition.
type Event struct {
	Target     string
	Transition Transition
	Time       time.Time
}

// Sampler reports the current level state of a target.
type Sampler func(ctx context.Context) (bool, error)

// Handler receives transitions on the poller goroutine. It must not call Stop on the
// poller that invoked it.
type Handler func(Event)

// Config describes one poller.
type Config struct {
	Target   string
	Interval time.Duration
	Sample   Sampler
	// Up is reported on a false to true edge, Down on true to false.
	Up   Transition
	Down Transition
	Log  logging.Logger
}

// Poller samples one target on its own goroutine and ticker.
type Poller struct {
	cfg     Config
	handler Handler
	log     logging.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	// owned by the poller goroutine
	primed bool
	state  bool
}

// StartPolling starts sampling cfg.Target every cfg.Interval. The first sample only
// records a baseline; handler is called for each later change of state.
func StartPolling(ctx context.Context, cfg Config, handler Handler) (*Poller, error) {
	if cfg.Sample == nil {
		return nil, errors.New("poller requires a sampler")
	}
	if handler == nil {
		return nil, errors.New("poller requires a handler")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	log := cfg.Log
	if log == nil {
		log = logging.Nop()
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Poller{
		cfg:     cfg,
		handler: handler,
		log:     log.WithFields(logging.F("target", cfg.Target)),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run(ctx)
	return p, nil
}

// Stop ends polling. When it returns no sample is in flight and the handler will not
// be called again. Calling Stop more than once is safe.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
	})
	<-p.done
}

// Target returns the sampled target.
func (p *Poller) Target() string { return p.cfg.Target }

// Interval returns the sampling period.
func (p *Poller) Interval() time.Duration { return p.cfg.Interval }

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sample(ctx)
		}
	}
}

func (p *Poller) sample(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("poller sample panicked", logging.F("panic", fmt.Sprint(r)))
		}
	}()

	state, err := p.cfg.Sample(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		// keep the previous state so a flaky sample cannot fake a transition
		p.log.Warn("poller sample failed", logging.Err(err))
		return
	}

	if !p.primed {
		p.primed = true
		p.state = state
		p.log.Debug("poller baseline recorded", logging.F("state", state))
		return
	}
	if state == p.state {
		return
	}
	p.state = state

	t := p.cfg.Down
	if state {
		t = p.cfg.Up
	}
	p.handler(Event{Target: p.cfg.Target, Transition: t, Time: time.Now()})
}
