// Package action performs the OS-level effects a trigger fires: launching, closing,
// restarting and arranging the windows of target applications.
package action

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"apptrigger/internal/condition"
	"apptrigger/internal/system"
)

var (
	// ErrUnsupportedAction is returned for a descriptor whose kind is unknown.
	ErrUnsupportedAction = errors.New("unsupported action type")
	// ErrInvalidAction is returned for a descriptor missing what its kind needs.
	ErrInvalidAction = errors.New("invalid action")
)

// DefaultTimeout bounds an action's OS call when TimeoutMs is unset.
const DefaultTimeout = 5 * time.Second

// Kind selects the effect an action has.
type Kind string

const (
	Launch       Kind = "Launch"
	Close        Kind = "Close"
	Restart      Kind = "Restart"
	Focus        Kind = "Focus"
	Minimize     Kind = "Minimize"
	BringToFront Kind = "BringToFront"
)

// Kinds lists every supported action kind.
var Kinds = []Kind{Launch, Close, Restart, Focus, Minimize, BringToFront}

func (k Kind) valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Descriptor is one action against a target application.
type Descriptor struct {
	Kind Kind `json:"kind" yaml:"kind"`
	// Target is the application's process name; defaults to the executable's base name.
	Target           string `json:"target,omitempty" yaml:"target,omitempty"`
	ExecutablePath   string `json:"executable_path,omitempty" yaml:"executable_path,omitempty"`
	Arguments        string `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	WindowTitle      string `json:"window_title,omitempty" yaml:"window_title,omitempty"`

	Force               bool `json:"force_operation,omitempty" yaml:"force_operation,omitempty"`
	IncludeChildren     bool `json:"include_child_processes,omitempty" yaml:"include_child_processes,omitempty"`
	IncludeSimilarNames bool `json:"include_similar_names,omitempty" yaml:"include_similar_names,omitempty"`
	TimeoutMs           int  `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`

	Conditions []condition.Descriptor `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Conditions = condition.CloneAll(d.Conditions)
	return c
}

// CloneAll deep-copies an action list.
func CloneAll(ds []Descriptor) []Descriptor {
	if ds == nil {
		return nil
	}
	out := make([]Descriptor, len(ds))
	for i, d := range ds {
		out[i] = d.Clone()
	}
	return out
}

// TargetName is the process name the action addresses.
func (d Descriptor) TargetName() string {
	if t := strings.TrimSpace(d.Target); t != "" {
		return t
	}
	return system.NormalizeName(d.ExecutablePath)
}

// Timeout returns the bound on the action's OS call.
func (d Descriptor) Timeout() time.Duration {
	if d.TimeoutMs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Args splits Arguments with shell quoting rules.
func (d Descriptor) Args() ([]string, error) {
	if strings.TrimSpace(d.Arguments) == "" {
		return nil, nil
	}
	args, err := shellquote.Split(d.Arguments)
	if err != nil {
		return nil, fmt.Errorf("%w: arguments: %v", ErrInvalidAction, err)
	}
	return args, nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%s)", d.Kind, d.TargetName())
}

// Validate reports an unknown kind or missing parameters, including those of the
// action's own conditions.
func (d Descriptor) Validate() error {
	if !d.Kind.valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, d.Kind)
	}
	if d.TimeoutMs < 0 {
		return fmt.Errorf("%w: negative timeout_ms", ErrInvalidAction)
	}

	hasExe := strings.TrimSpace(d.ExecutablePath) != ""
	switch d.Kind {
	case Launch, Restart:
		if !hasExe {
			return fmt.Errorf("%w: %s requires executable_path", ErrInvalidAction, d.Kind)
		}
	case Close:
		if d.TargetName() == "" {
			return fmt.Errorf("%w: close requires target or executable_path", ErrInvalidAction)
		}
	case Focus, Minimize, BringToFront:
		if d.TargetName() == "" && strings.TrimSpace(d.WindowTitle) == "" {
			return fmt.Errorf("%w: %s requires target, executable_path or window_title", ErrInvalidAction, d.Kind)
		}
	}
	if _, err := d.Args(); err != nil {
		return err
	}
	for i, c := range d.Conditions {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// Result is the outcome of one action. Executed is false when the action's conditions
// were not met or there was nothing to act on; Success implies Executed.
type Result struct {
	Kind     Kind
	Target   string
	Executed bool
	Success  bool
	Err      error
	Duration time.Duration
	// PID is set by Launch and Restart.
	PID int
}

// Status classifies the result as "success", "failed" or "skipped".
func (r Result) Status() string {
	switch {
	case !r.Executed && r.Err == nil:
		return "skipped"
	case r.Success:
		return "success"
	default:
		return "failed"
	}
}
