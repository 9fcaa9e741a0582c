package trigger

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"apptrigger/internal/action"
	"apptrigger/internal/condition"
	"apptrigger/internal/hook"
	"apptrigger/internal/watch"
)

var (
	ErrUnsupportedTriggerType = errors.New("unsupported trigger type")
	ErrInvalidTrigger         = errors.New("invalid trigger")
	ErrDuplicateTrigger       = errors.New("trigger already registered")
	ErrTriggerNotFound        = errors.New("no matching trigger found")
	ErrEngineClosed           = errors.New("trigger engine closed")
	ErrNotManual              = errors.New("trigger cannot be fired manually")
)

// Kind selects a trigger's detection source.
type Kind string

const (
	Keybind     Kind = "Keybind"
	AppLaunch   Kind = "AppLaunch"
	AppClose    Kind = "AppClose"
	NetworkPort Kind = "NetworkPort"
	SystemEvent Kind = "SystemEvent"
	Button      Kind = "Button"
)

// Kinds lists every supported trigger kind.
var Kinds = []Kind{Keybind, AppLaunch, AppClose, NetworkPort, SystemEvent, Button}

// Built-in system events raised by the engine itself.
const (
	EventStartup         = "startup"
	EventProfileReloaded = "profile-reloaded"
)

// Descriptor is a configured trigger: a detection source, a gate of conditions, and
// the actions to run in order when it fires.
type Descriptor struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        Kind   `json:"kind" yaml:"kind"`

	// Keybind: "Ctrl+Alt+K", or a bare key with Modifiers listed separately.
	Key       string   `json:"key,omitempty" yaml:"key,omitempty"`
	Modifiers []string `json:"modifiers,omitempty" yaml:"modifiers,omitempty"`
	EatKey    bool     `json:"eat_key,omitempty" yaml:"eat_key,omitempty"`

	// AppLaunch, AppClose
	ProcessName string `json:"process_name,omitempty" yaml:"process_name,omitempty"`

	// NetworkPort; PortEvent is "Opened" (default) or "Closed"
	Address   string `json:"address,omitempty" yaml:"address,omitempty"`
	Port      int    `json:"port,omitempty" yaml:"port,omitempty"`
	PortEvent string `json:"port_event,omitempty" yaml:"port_event,omitempty"`

	// SystemEvent
	EventName string `json:"event_name,omitempty" yaml:"event_name,omitempty"`

	PollingIntervalMs int `json:"polling_interval_ms,omitempty" yaml:"polling_interval_ms,omitempty"`
	// TimeoutMs bounds a NetworkPort probe.
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	// CooldownMs suppresses detections that follow a firing too closely.
	CooldownMs int  `json:"cooldown_ms,omitempty" yaml:"cooldown_ms,omitempty"`
	Inactive   bool `json:"inactive,omitempty" yaml:"inactive,omitempty"`

	Conditions []condition.Descriptor `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Actions    []action.Descriptor    `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// ToYAML marshals the trigger to YAML
func (d *Descriptor) ToYAML() ([]byte, error) {
	return yaml.Marshal(d)
}

// FromYAML unmarshals the trigger from YAML
func (d *Descriptor) FromYAML(data []byte) error {
	return yaml.Unmarshal(data, d)
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.Modifiers != nil {
		c.Modifiers = append([]string(nil), d.Modifiers...)
	}
	c.Conditions = condition.CloneAll(d.Conditions)
	c.Actions = action.CloneAll(d.Actions)
	return c
}

// Chord parses the Keybind key and modifiers.
func (d Descriptor) Chord() (hook.Chord, error) {
	c, err := hook.ParseChord(d.Key)
	if err != nil {
		return hook.Chord{}, err
	}
	extra, err := hook.ParseModifiers(d.Modifiers)
	if err != nil {
		return hook.Chord{}, err
	}
	c.Modifiers |= extra
	return c, nil
}

// portTransition is the edge a NetworkPort trigger fires on.
func (d Descriptor) portTransition() (watch.Transition, error) {
	switch strings.ToLower(strings.TrimSpace(d.PortEvent)) {
	case "", "opened", "open":
		return watch.Opened, nil
	case "closed", "close":
		return watch.Closed, nil
	}
	return 0, fmt.Errorf("unknown port_event %q", d.PortEvent)
}

func (d Descriptor) knownKind() bool {
	for _, k := range Kinds {
		if d.Kind == k {
			return true
		}
	}
	return false
}

// Validate reports configuration errors in the trigger and in its conditions and actions.
func (d Descriptor) Validate() error {
	if !d.knownKind() {
		return fmt.Errorf("%w: %q", ErrUnsupportedTriggerType, d.Kind)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTrigger)
	}
	if d.PollingIntervalMs < 0 || d.TimeoutMs < 0 || d.CooldownMs < 0 {
		return fmt.Errorf("%w: %s: intervals must not be negative", ErrInvalidTrigger, d.Name)
	}

	switch d.Kind {
	case Keybind:
		if _, err := d.Chord(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidTrigger, d.Name, err)
		}
	case AppLaunch, AppClose:
		if strings.TrimSpace(d.ProcessName) == "" {
			return fmt.Errorf("%w: %s: process_name is required", ErrInvalidTrigger, d.Name)
		}
	case NetworkPort:
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidTrigger, d.Name, d.Port)
		}
		if _, err := d.portTransition(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidTrigger, d.Name, err)
		}
	case SystemEvent:
		if strings.TrimSpace(d.EventName) == "" {
			return fmt.Errorf("%w: %s: event_name is required", ErrInvalidTrigger, d.Name)
		}
	}

	for i, c := range d.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%s: condition %d: %w", d.Name, i, err)
		}
	}
	for i, a := range d.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%s: action %d: %w", d.Name, i, err)
		}
	}
	return nil
}
