// Package event carries trigger activations to observers outside the engine and
// brings named system events in from NATS.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"apptrigger/internal/action"
)

const (
	// ActivatedType is the CloudEvent type of a trigger activation.
	ActivatedType = "io.apptrigger.trigger.activated"
	// SystemEventTypePrefix prefixes CloudEvent types that name a system event.
	SystemEventTypePrefix = "io.apptrigger.system."
	// Source is the CloudEvent source of activations.
	Source = "apptrigger/engine"
)

// ActionOutcome is the reported result of one action.
type ActionOutcome struct {
	Kind       string `json:"kind"`
	Target     string `json:"target"`
	Executed   bool   `json:"executed"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// OutcomeFrom converts a dispatcher result.
func OutcomeFrom(r action.Result) ActionOutcome {
	o := ActionOutcome{
		Kind:       string(r.Kind),
		Target:     r.Target,
		Executed:   r.Executed,
		Success:    r.Success,
		DurationMs: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		o.Error = r.Err.Error()
	}
	return o
}

// Activation is the TriggerActivated notification: one detection of a trigger and
// what its actions did.
type Activation struct {
	ID          string    `json:"id"`
	Trigger     string    `json:"trigger"`
	TriggerKind string    `json:"trigger_kind"`
	Source      string    `json:"source,omitempty"` // what was detected, e.g. "Ctrl+K down"
	Timestamp   time.Time `json:"timestamp"`
	// Fired is false when trigger-level conditions blocked the action list.
	Fired   bool            `json:"fired"`
	Actions []ActionOutcome `json:"actions,omitempty"`
}

// NewActivation creates an activation with a fresh ID.
func NewActivation(trigger, kind, source string) *Activation {
	return &Activation{
		ID:          uuid.New().String(),
		Trigger:     trigger,
		TriggerKind: kind,
		Source:      source,
		Timestamp:   time.Now().UTC(),
	}
}

// Record appends the outcomes of executed results.
func (a *Activation) Record(results []action.Result) {
	for _, r := range results {
		a.Actions = append(a.Actions, OutcomeFrom(r))
	}
}

// Succeeded reports whether the trigger fired and every action that ran succeeded.
func (a *Activation) Succeeded() bool {
	if !a.Fired {
		return false
	}
	for _, o := range a.Actions {
		if o.Executed && !o.Success {
			return false
		}
	}
	return true
}

// Summary renders a one-line description for notifications.
func (a *Activation) Summary() string {
	if !a.Fired {
		return fmt.Sprintf("%s: conditions not met", a.Trigger)
	}
	var ran, failed int
	for _, o := range a.Actions {
		if o.Executed {
			ran++
			if !o.Success {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Sprintf("%s: %d of %d action(s) failed", a.Trigger, failed, ran)
	}
	return fmt.Sprintf("%s: %d action(s) executed", a.Trigger, ran)
}

// ToCloudEvent wraps the activation in a CloudEvent.
func (a *Activation) ToCloudEvent() (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(a.ID)
	ce.SetSource(Source)
	ce.SetType(ActivatedType)
	ce.SetSubject(a.Trigger)
	ce.SetTime(a.Timestamp)
	if err := ce.SetData(cloudevents.ApplicationJSON, a); err != nil {
		return ce, fmt.Errorf("failed to set activation data: %w", err)
	}
	return ce, nil
}

// ActivationFromCloudEvent decodes an activation published by ToCloudEvent.
func ActivationFromCloudEvent(ce *cloudevents.Event) (*Activation, error) {
	if ce.Type() != ActivatedType {
		return nil, fmt.Errorf("unexpected event type %q", ce.Type())
	}
	var a Activation
	if err := ce.DataAs(&a); err != nil {
		return nil, fmt.Errorf("failed to decode activation: %w", err)
	}
	return &a, nil
}

// SystemEventName extracts the system event name a CloudEvent carries: the type after
// SystemEventTypePrefix, else the subject, else a {"name": ...} payload.
func SystemEventName(ce *cloudevents.Event) (string, error) {
	if name := strings.TrimPrefix(ce.Type(), SystemEventTypePrefix); name != ce.Type() && name != "" {
		return name, nil
	}
	if s := strings.TrimSpace(ce.Subject()); s != "" {
		return s, nil
	}
	var payload struct {
		Name string `json:"name"`
	}
	if len(ce.Data()) > 0 {
		if err := json.Unmarshal(ce.Data(), &payload); err == nil && payload.Name != "" {
			return payload.Name, nil
		}
	}
	return "", fmt.Errorf("event %s carries no system event name", ce.ID())
}

// NewSystemEvent builds the CloudEvent that raises the named system event.
func NewSystemEvent(name, source string) cloudevents.Event {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.New().String())
	ce.SetSource(source)
	ce.SetType(SystemEventTypePrefix + name)
	ce.SetSubject(name)
	ce.SetTime(time.Now().UTC())
	return ce
}

// Sink receives activations. Implementations must not block the engine for long.
type Sink interface {
	Publish(ctx context.Context, a *Activation) error
}

// Sinks fans an activation out to several sinks, returning the first error.
type Sinks []Sink

func (s Sinks) Publish(ctx context.Context, a *Activation) error {
	var first error
	for _, sink := range s {
		if err := sink.Publish(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
