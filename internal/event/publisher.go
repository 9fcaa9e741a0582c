package event

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultActivationSubject is where activations are published when none is configured.
const DefaultActivationSubject = "apptrigger.activations"

// Publisher publishes activations as JSON CloudEvents on a NATS subject, one message
// per activation under "<subject>.<trigger>".
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher creates a publisher over an existing connection.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultActivationSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

func (p *Publisher) Publish(_ context.Context, a *Activation) error {
	ce, err := a.ToCloudEvent()
	if err != nil {
		return err
	}
	data, err := ce.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal activation: %w", err)
	}
	if err := p.conn.Publish(p.subjectFor(a.Trigger), data); err != nil {
		return fmt.Errorf("failed to publish activation: %w", err)
	}
	return nil
}

func (p *Publisher) subjectFor(trigger string) string {
	return p.subject + "." + subjectToken(trigger)
}

// subjectToken makes a trigger name usable as one NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	out := []rune(s)
	for i, r := range out {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			out[i] = '_'
		}
	}
	return string(out)
}
