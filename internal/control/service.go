// Package control exposes a running trigger engine over the NATS service API so other
// processes can list triggers, fire buttons and raise system events.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"

	"apptrigger/internal/event"
	"apptrigger/internal/logging"
	"apptrigger/internal/trigger"
)

// DefaultSubjectPrefix is the subject group endpoints live under.
const DefaultSubjectPrefix = "apptrigger.control"

const defaultFireTimeout = 30 * time.Second

// Engine is the part of the trigger engine the service drives.
type Engine interface {
	GetTriggerNames() []string
	GetTrigger(name string) (trigger.Info, error)
	Fire(ctx context.Context, name string) (*event.Activation, error)
	RaiseSystemEvent(name string) int
	KeyboardHookActive() bool
}

// TriggerStatus is one trigger in a list response.
type TriggerStatus struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	State      string `json:"state"`
	Inactive   bool   `json:"inactive,omitempty"`
	Actions    int    `json:"actions"`
	Conditions int    `json:"conditions"`
}

// Status is the list response.
type Status struct {
	Profile      string          `json:"profile,omitempty"`
	KeyboardHook bool            `json:"keyboard_hook"`
	Triggers     []TriggerStatus `json:"triggers"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type raiseResponse struct {
	Notified int `json:"notified"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// ServiceConfig holds the configuration for the control service
type ServiceConfig struct {
	Name          string
	Version       string
	SubjectPrefix string
	Profile       func() string
	FireTimeout   time.Duration
}

// Service answers control requests for one engine.
type Service struct {
	engine  Engine
	cfg     ServiceConfig
	service micro.Service
	log     logging.Logger
}

// NewService registers the control endpoints on nc.
func NewService(nc *nats.Conn, engine Engine, cfg ServiceConfig, log logging.Logger) (*Service, error) {
	if cfg.Name == "" {
		cfg.Name = "triggerd"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = defaultFireTimeout
	}
	if log == nil {
		log = logging.Nop()
	}

	s := &Service{engine: engine, cfg: cfg, log: log}

	svc, err := micro.AddService(nc, micro.Config{
		Name:        cfg.Name,
		Version:     cfg.Version,
		Description: "Application trigger engine control",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS service: %w", err)
	}
	s.service = svc

	endpoints := []struct {
		name    string
		handler micro.HandlerFunc
		desc    string
	}{
		{"list", s.handleList, "List registered triggers and their state"},
		{"fire", s.handleFire, "Fire a Button trigger and return its activation"},
		{"raise", s.handleRaise, "Raise a named system event"},
	}
	for _, ep := range endpoints {
		err := svc.AddEndpoint(ep.name, ep.handler,
			micro.WithEndpointSubject(cfg.SubjectPrefix+"."+ep.name),
			micro.WithEndpointMetadata(map[string]string{
				"description": ep.desc,
				"format":      "application/json",
			}))
		if err != nil {
			_ = svc.Stop()
			return nil, fmt.Errorf("failed to add %s endpoint: %w", ep.name, err)
		}
	}

	log.Info("control service started",
		logging.F("service", svc.Info().Name),
		logging.F("subjects", cfg.SubjectPrefix+".*"))
	return s, nil
}

// Stop removes the endpoints.
func (s *Service) Stop() error {
	if s.service == nil {
		return nil
	}
	return s.service.Stop()
}

func (s *Service) status() Status {
	st := Status{KeyboardHook: s.engine.KeyboardHookActive(), Triggers: []TriggerStatus{}}
	if s.cfg.Profile != nil {
		st.Profile = s.cfg.Profile()
	}
	for _, name := range s.engine.GetTriggerNames() {
		info, err := s.engine.GetTrigger(name)
		if err != nil {
			// unregistered since the name was listed
			continue
		}
		d := info.Descriptor
		st.Triggers = append(st.Triggers, TriggerStatus{
			Name:       d.Name,
			Kind:       string(d.Kind),
			State:      info.State.String(),
			Inactive:   d.Inactive,
			Actions:    len(d.Actions),
			Conditions: len(d.Conditions),
		})
	}
	return st
}

func (s *Service) handleList(req micro.Request) {
	s.respond(req, s.status())
}

func (s *Service) handleFire(req micro.Request) {
	var r nameRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil || r.Name == "" {
		s.respondWithError(req, "invalid_request", fmt.Errorf("request must name a trigger"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FireTimeout)
	defer cancel()
	act, err := s.engine.Fire(ctx, r.Name)
	if err != nil {
		s.respondWithError(req, errorType(err), err)
		return
	}
	s.respond(req, act)
}

func (s *Service) handleRaise(req micro.Request) {
	var r nameRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil || r.Name == "" {
		s.respondWithError(req, "invalid_request", fmt.Errorf("request must name an event"))
		return
	}
	s.respond(req, raiseResponse{Notified: s.engine.RaiseSystemEvent(r.Name)})
}

func errorType(err error) string {
	switch {
	case errors.Is(err, trigger.ErrTriggerNotFound):
		return "not_found"
	case errors.Is(err, trigger.ErrNotManual):
		return "not_manual"
	case errors.Is(err, trigger.ErrEngineClosed):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "execution_error"
}

func (s *Service) respond(req micro.Request, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to marshal response", logging.Err(err))
		s.respondWithError(req, "response_error", err)
		return
	}
	if err := req.Respond(data); err != nil {
		s.log.Error("failed to send response", logging.Err(err))
	}
}

// respondWithError sends an error response
func (s *Service) respondWithError(req micro.Request, kind string, err error) {
	data, marshalErr := json.Marshal(errorResponse{Error: err.Error(), ErrorType: kind})
	if marshalErr != nil {
		s.log.Error("failed to marshal error response", logging.Err(marshalErr))
		return
	}
	if err := req.Respond(data); err != nil {
		s.log.Error("failed to send error response", logging.Err(err))
	}
}
