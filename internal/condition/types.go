// Package condition evaluates the predicates that gate triggers and actions.
package condition

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnsupportedCondition is returned for a descriptor whose kind is unknown.
	ErrUnsupportedCondition = errors.New("unsupported condition type")
	// ErrInvalidCondition is returned for a descriptor whose parameters cannot be used.
	ErrInvalidCondition = errors.New("invalid condition")
)

// Kind selects the check a Descriptor performs.
type Kind string

const (
	ProcessRunning        Kind = "ProcessRunning"
	ProcessNotRunning     Kind = "ProcessNotRunning"
	FileExists            Kind = "FileExists"
	FileNotExists         Kind = "FileNotExists"
	PreviousActionSuccess Kind = "PreviousActionSuccess"
	WindowExists          Kind = "WindowExists"
	WindowFocused         Kind = "WindowFocused"
	WindowMinimized       Kind = "WindowMinimized"
	NetworkPortOpen       Kind = "NetworkPortOpen"
	TimeRange             Kind = "TimeRange"
	DayOfWeek             Kind = "DayOfWeek"
	SystemUptime          Kind = "SystemUptime"
	// Expression evaluates an expr-lang boolean expression.
	Expression Kind = "Expression"
)

// Kinds lists every supported condition kind.
var Kinds = []Kind{
	ProcessRunning, ProcessNotRunning, FileExists, FileNotExists, PreviousActionSuccess,
	WindowExists, WindowFocused, WindowMinimized, NetworkPortOpen, TimeRange, DayOfWeek,
	SystemUptime, Expression,
}

// Descriptor is one condition. Kind decides which parameter fields are read; the others
// are ignored and never treated as errors.
type Descriptor struct {
	Kind   Kind `json:"kind" yaml:"kind"`
	Negate bool `json:"negate,omitempty" yaml:"negate,omitempty"`

	// ProcessRunning, ProcessNotRunning, Window*
	ProcessName string `json:"process_name,omitempty" yaml:"process_name,omitempty"`
	// Window*: substring of the window title, matched case-insensitively
	WindowTitle string `json:"window_title,omitempty" yaml:"window_title,omitempty"`
	// FileExists, FileNotExists: FilePath, falling back to ExecutablePath
	FilePath       string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	ExecutablePath string `json:"executable_path,omitempty" yaml:"executable_path,omitempty"`
	// NetworkPortOpen
	Address string `json:"address,omitempty" yaml:"address,omitempty"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	// TimeRange, "HH:MM" local time; an end before start wraps past midnight
	StartTime string `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	// DayOfWeek, e.g. ["Monday", "Fri"]
	Days []string `json:"days,omitempty" yaml:"days,omitempty"`
	// SystemUptime; zero MaxUptimeMs means unbounded
	MinUptimeMs int64 `json:"min_uptime_ms,omitempty" yaml:"min_uptime_ms,omitempty"`
	MaxUptimeMs int64 `json:"max_uptime_ms,omitempty" yaml:"max_uptime_ms,omitempty"`
	// NetworkPortOpen probe timeout
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	// Expression source
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	c := d
	if d.Days != nil {
		c.Days = append([]string(nil), d.Days...)
	}
	return c
}

// CloneAll deep-copies a condition list.
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

// String renders the condition for logs.
func (d Descriptor) String() string {
	s := string(d.Kind)
	if d.Negate {
		s = "!" + s
	}
	switch d.Kind {
	case ProcessRunning, ProcessNotRunning:
		return fmt.Sprintf("%s(%s)", s, d.ProcessName)
	case FileExists, FileNotExists:
		return fmt.Sprintf("%s(%s)", s, d.path())
	case NetworkPortOpen:
		return fmt.Sprintf("%s(%s:%d)", s, d.Address, d.Port)
	case TimeRange:
		return fmt.Sprintf("%s(%s-%s)", s, d.StartTime, d.EndTime)
	}
	return s
}

func (d Descriptor) path() string {
	if strings.TrimSpace(d.FilePath) != "" {
		return d.FilePath
	}
	return d.ExecutablePath
}

func (d Descriptor) timeout() time.Duration {
	if d.TimeoutMs <= 0 {
		return time.Second
	}
	return time.Duration(d.TimeoutMs) * time.Millisecond
}

// Validate reports configuration errors: an unknown kind, or parameters the kind
// needs that cannot be parsed.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case ProcessRunning, ProcessNotRunning:
		if strings.TrimSpace(d.ProcessName) == "" {
			return fmt.Errorf("%w: %s requires process_name", ErrInvalidCondition, d.Kind)
		}
	case WindowExists, WindowFocused, WindowMinimized:
		if strings.TrimSpace(d.ProcessName) == "" && strings.TrimSpace(d.WindowTitle) == "" {
			return fmt.Errorf("%w: %s requires process_name or window_title", ErrInvalidCondition, d.Kind)
		}
	case NetworkPortOpen:
		if d.Port <= 0 || d.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalidCondition, d.Port)
		}
	case TimeRange:
		if _, err := parseClock(d.StartTime); err != nil {
			return fmt.Errorf("%w: start_time: %v", ErrInvalidCondition, err)
		}
		if _, err := parseClock(d.EndTime); err != nil {
			return fmt.Errorf("%w: end_time: %v", ErrInvalidCondition, err)
		}
	case DayOfWeek:
		for _, day := range d.Days {
			if _, err := parseWeekday(day); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
			}
		}
	case SystemUptime:
		if d.MaxUptimeMs != 0 && d.MaxUptimeMs < d.MinUptimeMs {
			return fmt.Errorf("%w: max_uptime_ms below min_uptime_ms", ErrInvalidCondition)
		}
	case Expression:
		if _, err := compile(d.Expression); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
		}
	case FileExists, FileNotExists, PreviousActionSuccess:
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCondition, d.Kind)
	}
	return nil
}

// parseClock parses "HH:MM" (or "HH:MM:SS") into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || (len(s) >= 3 && strings.HasPrefix(name, s)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid day of week %q", s)
}
