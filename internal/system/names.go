package system

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// NormalizeName reduces a process name or executable path to the comparable form:
// base name, lower case, without a trailing ".exe".
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.ToLower(name)
	return strings.TrimSuffix(name, ".exe")
}

// Matcher decides whether a process belongs to a target name.
type Matcher struct {
	name    string
	pattern glob.Glob
}

// NewMatcher builds a matcher for name. With similar set, or when name carries glob
// metacharacters, matching is by pattern ("*name*" for plain names); otherwise exact.
func NewMatcher(name string, similar bool) (*Matcher, error) {
	n := NormalizeName(name)
	if n == "" {
		return nil, fmt.Errorf("empty process name")
	}
	m := &Matcher{name: n}

	pattern := ""
	switch {
	case strings.ContainsAny(n, "*?[{"):
		pattern = n
	case similar:
		pattern = "*" + n + "*"
	}
	if pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid process name pattern %q: %w", name, err)
		}
		m.pattern = g
	}
	return m, nil
}

// Match reports whether p matches by its name or by its executable's base name.
func (m *Matcher) Match(p Process) bool {
	for _, candidate := range []string{p.Name, p.Executable} {
		c := NormalizeName(candidate)
		if c == "" {
			continue
		}
		if m.pattern != nil {
			if m.pattern.Match(c) {
				return true
			}
			continue
		}
		if c == m.name {
			return true
		}
	}
	return false
}

// FindProcesses returns the processes from lister that match name.
func FindProcesses(lister ProcessLister, name string, similar bool) ([]Process, error) {
	m, err := NewMatcher(name, similar)
	if err != nil {
		return nil, err
	}
	all, err := lister.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}
	return Filter(all, m), nil
}

// Filter returns the processes in all accepted by m.
func Filter(all []Process, m *Matcher) []Process {
	var out []Process
	for _, p := range all {
		if m.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Descendants returns every process in all whose ancestry leads to one of roots,
// excluding the roots themselves.
func Descendants(all []Process, roots []Process) []Process {
	children := make(map[int][]Process)
	for _, p := range all {
		if p.PID == p.PPID {
			continue
		}
		children[p.PPID] = append(children[p.PPID], p)
	}

	seen := make(map[int]bool, len(roots))
	for _, r := range roots {
		seen[r.PID] = true
	}

	var out []Process
	queue := append([]Process(nil), roots...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur.PID] {
			if seen[c.PID] {
				continue
			}
			seen[c.PID] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}
