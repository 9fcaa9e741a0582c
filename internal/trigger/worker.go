package trigger

import (
	"context"
	"sync/atomic"
	"time"

	"apptrigger/internal/condition"
	"apptrigger/internal/event"
	"apptrigger/internal/logging"
)

// request is one detection waiting to be handled by a trigger's worker.
type request struct {
	source string
	manual bool
	reply  chan<- *event.Activation
}

// registered is a trigger in the registry. Each one has its own worker goroutine so
// activations of one trigger run in order and never block another trigger.
type registered struct {
	t   *Trigger
	log logging.Logger

	// guarded by Engine.mu
	state      State
	stopSource func()

	started  atomic.Bool
	requests chan request
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	// owned by the worker
	lastFire time.Time
}

func (e *Engine) newRegistered(t *Trigger) *registered {
	ctx, cancel := context.WithCancel(e.ctx)
	r := &registered{
		t:        t,
		log:      e.log.WithFields(logging.F("trigger", t.desc.Name)),
		state:    Registered,
		requests: make(chan request, e.queueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go e.work(r)
	return r
}

// detect is the fireFunc handed to the trigger's source.
func (r *registered) detect(detail string) {
	if !r.started.Load() {
		return
	}
	if !r.enqueue(request{source: detail}) {
		r.log.Warn("trigger busy, detection dropped", logging.F("source", detail))
	}
}

func (r *registered) enqueue(req request) bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
	}
	select {
	case r.requests <- req:
		return true
	default:
		return false
	}
}

// shutdown stops the worker and waits for an in-flight activation to finish.
func (r *registered) shutdown() {
	r.cancel()
	<-r.done
}

func (e *Engine) work(r *registered) {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			return
		case req := <-r.requests:
			act := e.activate(r, req)
			if req.reply != nil {
				req.reply <- act
			}
		}
	}
}

// activate gates one detection on the trigger's conditions and runs its action list.
// It returns nil when the detection was discarded before evaluation.
func (e *Engine) activate(r *registered, req request) *event.Activation {
	d := r.t.desc
	if !req.manual {
		if !r.started.Load() {
			return nil
		}
		if cooldown := time.Duration(d.CooldownMs) * time.Millisecond; cooldown > 0 && !r.lastFire.IsZero() && time.Since(r.lastFire) < cooldown {
			r.log.Debug("detection within cooldown ignored", logging.F("source", req.source))
			return nil
		}
	}

	act := event.NewActivation(d.Name, string(d.Kind), req.source)
	if !e.eval.AllPass(r.ctx, d.Conditions, condition.Standalone) {
		r.log.Debug("trigger conditions not met", logging.F("source", req.source))
		return act
	}

	act.Fired = true
	r.lastFire = time.Now()
	act.Record(e.dispatcher.ExecuteSequence(r.ctx, d.Actions))
	e.metrics.RecordActivation(d.Name, string(d.Kind))
	r.log.Info("trigger fired",
		logging.F("source", req.source),
		logging.F("actions", len(act.Actions)),
		logging.F("succeeded", act.Succeeded()))
	e.publish(act)
	return act
}
