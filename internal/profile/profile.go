// Package profile loads, saves and watches the documents that describe a set of triggers.
package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"apptrigger/internal/trigger"
)

// CurrentVersion is written into every saved profile.
const CurrentVersion = "1.0.0.0"

// SupportedMajor is the highest profile major version this build reads.
const SupportedMajor = 1

// DefaultScanIntervalMs applies when a profile sets no scan interval.
const DefaultScanIntervalMs = 2000

var (
	ErrInvalidProfile     = errors.New("invalid profile")
	ErrUnsupportedVersion = errors.New("unsupported profile version")
	ErrProfileNotFound    = errors.New("profile not found")
)

// Profile is one named set of triggers plus its top-level settings.
type Profile struct {
	Version        string               `json:"version" yaml:"version"`
	Name           string               `json:"name" yaml:"name"`
	ScanIntervalMs int                  `json:"scan_interval_ms,omitempty" yaml:"scan_interval_ms,omitempty"`
	Autostart      bool                 `json:"autostart,omitempty" yaml:"autostart,omitempty"`
	Triggers       []trigger.Descriptor `json:"triggers" yaml:"triggers"`
}

// New returns an empty profile at the current version.
func New(name string) *Profile {
	return &Profile{Version: CurrentVersion, Name: name, ScanIntervalMs: DefaultScanIntervalMs}
}

// Version is a four-part profile version tag.
type Version [4]int

// ParseVersion parses "major.minor.build.revision". Missing trailing parts read as zero.
func ParseVersion(s string) (Version, error) {
	var v Version
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 4 || parts[0] == "" {
		return v, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return v, fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
		}
		v[i] = n
	}
	return v, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}

// Normalize fills defaults: the current version, the scan interval and, for pollers
// without their own interval, the profile scan interval.
func (p *Profile) Normalize() {
	if strings.TrimSpace(p.Version) == "" {
		p.Version = CurrentVersion
	}
	if p.ScanIntervalMs <= 0 {
		p.ScanIntervalMs = DefaultScanIntervalMs
	}
	for i := range p.Triggers {
		t := &p.Triggers[i]
		switch t.Kind {
		case trigger.AppLaunch, trigger.AppClose, trigger.NetworkPort:
			if t.PollingIntervalMs == 0 {
				t.PollingIntervalMs = p.ScanIntervalMs
			}
		}
	}
}

// Validate checks the version and every trigger, including name uniqueness.
func (p *Profile) Validate() error {
	v, err := ParseVersion(p.Version)
	if err != nil {
		return err
	}
	if v[0] > SupportedMajor {
		return fmt.Errorf("%w: %s is newer than %d.x", ErrUnsupportedVersion, p.Version, SupportedMajor)
	}
	if p.ScanIntervalMs < 0 {
		return fmt.Errorf("%w: scan_interval_ms must not be negative", ErrInvalidProfile)
	}

	seen := make(map[string]bool, len(p.Triggers))
	for _, t := range p.Triggers {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: %s", trigger.ErrDuplicateTrigger, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Trigger returns the named trigger descriptor.
func (p *Profile) Trigger(name string) (trigger.Descriptor, bool) {
	for _, t := range p.Triggers {
		if t.Name == name {
			return t, true
		}
	}
	return trigger.Descriptor{}, false
}

// ToJSON marshals the profile as indented JSON.
func (p *Profile) ToJSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// ToYAML marshals the profile to YAML
func (p *Profile) ToYAML() ([]byte, error) {
	return yaml.Marshal(p)
}

// FromYAML unmarshals the profile from YAML
func (p *Profile) FromYAML(data []byte) error {
	return yaml.Unmarshal(data, p)
}

// Decode parses a JSON or YAML profile, fills defaults and validates it.
func Decode(data []byte) (*Profile, error) {
	p := &Profile{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidProfile)
	}

	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, p)
	} else {
		err = p.FromYAML(trimmed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Save writes the profile atomically, as YAML when path ends in .yaml or .yml and as
// JSON otherwise.
func Save(path string, p *Profile) error {
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAMLFile(path) {
		data, err = p.ToYAML()
	} else {
		data, err = p.ToJSON()
	}
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return writeAtomic(path, data)
}

func isYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// writeAtomic replaces path with data via a temporary file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
