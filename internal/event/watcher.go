package event

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/nats-io/nats.go"

	"apptrigger/internal/logging"
)

// DefaultSystemEventSubject is subscribed to when no subject is configured.
const DefaultSystemEventSubject = "apptrigger.system.>"

// SourceConfig holds the configuration for the NATS system event source
type SourceConfig struct {
	Subject     string        // Subject to subscribe to
	QueueGroup  string        // Queue group name (optional)
	StreamName  string        // JetStream stream; empty subscribes with core NATS
	DurableName string        // Durable consumer name (JetStream only)
	AckWait     time.Duration // How long to wait for ACK (JetStream only)
	MaxDeliver  int           // Maximum number of delivery attempts (JetStream only)
}

// SystemEventHandler raises a named system event.
type SystemEventHandler func(name string) error

// SystemEventSource turns NATS messages into named system events. A message is either a
// JSON CloudEvent (see SystemEventName) or a plain-text event name.
type SystemEventSource struct {
	conn    *nats.Conn
	config  SourceConfig
	handler SystemEventHandler
	log     logging.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewSystemEventSource creates a source over an existing connection.
func NewSystemEventSource(conn *nats.Conn, config SourceConfig, handler SystemEventHandler, log logging.Logger) *SystemEventSource {
	if config.Subject == "" {
		config.Subject = DefaultSystemEventSubject
	}
	if log == nil {
		log = logging.Nop()
	}
	return &SystemEventSource{
		conn:    conn,
		config:  config,
		handler: handler,
		log:     log.WithFields(logging.F("subject", config.Subject)),
	}
}

// Start subscribes and keeps the subscription until ctx is cancelled or Stop is called.
func (s *SystemEventSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return fmt.Errorf("system event source already started")
	}

	var (
		sub *nats.Subscription
		err error
	)
	if s.config.StreamName != "" {
		sub, err = s.subscribeJetStream()
	} else if s.config.QueueGroup != "" {
		sub, err = s.conn.QueueSubscribe(s.config.Subject, s.config.QueueGroup, s.handleMessage)
	} else {
		sub, err = s.conn.Subscribe(s.config.Subject, s.handleMessage)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.sub = sub
	s.log.Info("listening for system events")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *SystemEventSource) subscribeJetStream() (*nats.Subscription, error) {
	js, err := s.conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	opts := []nats.SubOpt{
		nats.BindStream(s.config.StreamName),
		nats.ManualAck(),
		nats.DeliverNew(),
	}
	if s.config.DurableName != "" {
		opts = append(opts, nats.Durable(s.config.DurableName))
	}
	if s.config.AckWait > 0 {
		opts = append(opts, nats.AckWait(s.config.AckWait))
	}
	if s.config.MaxDeliver > 0 {
		opts = append(opts, nats.MaxDeliver(s.config.MaxDeliver))
	}

	if s.config.QueueGroup != "" {
		return js.QueueSubscribe(s.config.Subject, s.config.QueueGroup, s.handleMessage, opts...)
	}
	return js.Subscribe(s.config.Subject, s.handleMessage, opts...)
}

// Stop unsubscribes. It is safe to call more than once.
func (s *SystemEventSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return
	}
	if err := s.sub.Unsubscribe(); err != nil {
		s.log.Warn("error unsubscribing", logging.Err(err))
	}
	s.sub = nil
}

// handleMessage processes incoming NATS messages
func (s *SystemEventSource) handleMessage(msg *nats.Msg) {
	name, err := parseSystemEvent(msg.Data)
	if err != nil {
		s.log.Warn("discarding system event", logging.Err(err))
		s.settle(msg, false)
		return
	}

	if err := s.handler(name); err != nil {
		s.log.Warn("failed to raise system event", logging.F("event", name), logging.Err(err))
		s.settle(msg, false)
		return
	}
	s.settle(msg, true)
}

// settle acks JetStream deliveries; core NATS messages have no reply to settle.
func (s *SystemEventSource) settle(msg *nats.Msg, ok bool) {
	if s.config.StreamName == "" {
		return
	}
	var err error
	if ok {
		err = msg.Ack()
	} else {
		err = msg.Nak()
	}
	if err != nil {
		s.log.Debug("error settling message", logging.Err(err))
	}
}

func parseSystemEvent(data []byte) (string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return "", fmt.Errorf("empty system event")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	ce := cloudevents.NewEvent()
	if err := ce.UnmarshalJSON(data); err != nil {
		return "", fmt.Errorf("failed to unmarshal CloudEvent: %w", err)
	}
	return SystemEventName(&ce)
}
