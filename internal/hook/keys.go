package hook

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Key is a virtual-key code.
type Key uint8

// Modifiers is a set of held modifier keys.
type Modifiers uint8

const (
	Ctrl Modifiers = 1 << iota
	Alt
	Shift
	Win
)

// Virtual-key codes used by the parser and modifier tracking.
const (
	KeyBackspace Key = 0x08
	KeyTab       Key = 0x09
	KeyEnter     Key = 0x0D
	KeyShift     Key = 0x10
	KeyControl   Key = 0x11
	KeyMenu      Key = 0x12
	KeyPause     Key = 0x13
	KeyCapsLock  Key = 0x14
	KeyEscape    Key = 0x1B
	KeySpace     Key = 0x20
	KeyPageUp    Key = 0x21
	KeyPageDown  Key = 0x22
	KeyEnd       Key = 0x23
	KeyHome      Key = 0x24
	KeyLeft      Key = 0x25
	KeyUp        Key = 0x26
	KeyRight     Key = 0x27
	KeyDown      Key = 0x28
	KeyPrint     Key = 0x2C
	KeyInsert    Key = 0x2D
	KeyDelete    Key = 0x2E
	KeyLWin      Key = 0x5B
	KeyRWin      Key = 0x5C
	KeyNumpad0   Key = 0x60
	KeyF1        Key = 0x70
	KeyLShift    Key = 0xA0
	KeyRShift    Key = 0xA1
	KeyLControl  Key = 0xA2
	KeyRControl  Key = 0xA3
	KeyLMenu     Key = 0xA4
	KeyRMenu     Key = 0xA5
)

var namedKeys = map[string]Key{
	"backspace": KeyBackspace,
	"tab":       KeyTab,
	"enter":     KeyEnter,
	"return":    KeyEnter,
	"pause":     KeyPause,
	"capslock":  KeyCapsLock,
	"esc":       KeyEscape,
	"escape":    KeyEscape,
	"space":     KeySpace,
	"pageup":    KeyPageUp,
	"pagedown":  KeyPageDown,
	"end":       KeyEnd,
	"home":      KeyHome,
	"left":      KeyLeft,
	"up":        KeyUp,
	"right":     KeyRight,
	"down":      KeyDown,
	"print":     KeyPrint,
	"insert":    KeyInsert,
	"delete":    KeyDelete,
	"del":       KeyDelete,
	"lwin":      KeyLWin,
	"rwin":      KeyRWin,
	"shift":     KeyShift,
	"ctrl":      KeyControl,
	"control":   KeyControl,
	"alt":       KeyMenu,
	"lshift":    KeyLShift,
	"rshift":    KeyRShift,
	"lctrl":     KeyLControl,
	"rctrl":     KeyRControl,
	"lalt":      KeyLMenu,
	"ralt":      KeyRMenu,
}

var keyNames = func() map[Key]string {
	names := make(map[Key]string)
	// prefer the longest alias, e.g. "Escape" over "Esc"
	aliases := make([]string, 0, len(namedKeys))
	for name := range namedKeys {
		aliases = append(aliases, name)
	}
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i]) != len(aliases[j]) {
			return len(aliases[i]) > len(aliases[j])
		}
		return aliases[i] < aliases[j]
	})
	for _, name := range aliases {
		k := namedKeys[name]
		if _, ok := names[k]; !ok {
			names[k] = strings.ToUpper(name[:1]) + name[1:]
		}
	}
	return names
}()

var modifierNames = map[string]Modifiers{
	"ctrl":    Ctrl,
	"control": Ctrl,
	"alt":     Alt,
	"shift":   Shift,
	"win":     Win,
	"meta":    Win,
	"super":   Win,
}

// ParseKey parses a key name: a letter or digit, F1-F24, Num0-Num9, a named key such as
// "Space" or "Escape", or a raw virtual-key code written as hex ("0x41").
func ParseKey(s string) (Key, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return 0, fmt.Errorf("empty key")
	}
	if len(name) == 1 {
		c := name[0]
		switch {
		case c >= 'a' && c <= 'z':
			return Key(c - 'a' + 'A'), nil
		case c >= '0' && c <= '9':
			return Key(c), nil
		}
	}
	if k, ok := namedKeys[name]; ok {
		return k, nil
	}
	if strings.HasPrefix(name, "f") {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 1 && n <= 24 {
			return KeyF1 + Key(n-1), nil
		}
	}
	if strings.HasPrefix(name, "num") {
		if n, err := strconv.Atoi(name[3:]); err == nil && n >= 0 && n <= 9 {
			return KeyNumpad0 + Key(n), nil
		}
	}
	if strings.HasPrefix(name, "0x") {
		if n, err := strconv.ParseUint(name[2:], 16, 8); err == nil && n > 0 {
			return Key(n), nil
		}
	}
	return 0, fmt.Errorf("unknown key %q", s)
}

func (k Key) String() string {
	switch {
	case k >= 'A' && k <= 'Z', k >= '0' && k <= '9':
		return string(rune(k))
	case k >= KeyF1 && k < KeyF1+24:
		return fmt.Sprintf("F%d", k-KeyF1+1)
	case k >= KeyNumpad0 && k <= KeyNumpad0+9:
		return fmt.Sprintf("Num%d", k-KeyNumpad0)
	}
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(k))
}

// IsModifier reports whether k is one of the modifier keys.
func (k Key) IsModifier() bool {
	return k.modifier() != 0
}

func (k Key) modifier() Modifiers {
	switch k {
	case KeyControl, KeyLControl, KeyRControl:
		return Ctrl
	case KeyMenu, KeyLMenu, KeyRMenu:
		return Alt
	case KeyShift, KeyLShift, KeyRShift:
		return Shift
	case KeyLWin, KeyRWin:
		return Win
	}
	return 0
}

// ParseModifiers parses a list of modifier names.
func ParseModifiers(names []string) (Modifiers, error) {
	var m Modifiers
	for _, n := range names {
		mod, ok := modifierNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown modifier %q", n)
		}
		m |= mod
	}
	return m, nil
}

// Names returns the modifier names in canonical order.
func (m Modifiers) Names() []string {
	var out []string
	for _, p := range []struct {
		mod  Modifiers
		name string
	}{{Ctrl, "Ctrl"}, {Alt, "Alt"}, {Shift, "Shift"}, {Win, "Win"}} {
		if m&p.mod != 0 {
			out = append(out, p.name)
		}
	}
	return out
}

func (m Modifiers) String() string {
	return strings.Join(m.Names(), "+")
}

// Chord is a key pressed while an exact set of modifiers is held.
type Chord struct {
	Key       Key
	Modifiers Modifiers
}

// ParseChord parses "Ctrl+Alt+K" style notation. The last element is the key.
func ParseChord(s string) (Chord, error) {
	parts := strings.Split(s, "+")
	if len(parts) == 0 || strings.TrimSpace(parts[len(parts)-1]) == "" {
		return Chord{}, fmt.Errorf("invalid key chord %q", s)
	}
	key, err := ParseKey(parts[len(parts)-1])
	if err != nil {
		return Chord{}, err
	}
	mods, err := ParseModifiers(parts[:len(parts)-1])
	if err != nil {
		return Chord{}, err
	}
	return Chord{Key: key, Modifiers: mods}, nil
}

// Matches reports whether ev is the key-down of this chord with exactly its modifiers held.
func (c Chord) Matches(ev KeyEvent) bool {
	return ev.Down && ev.Key == c.Key && ev.Modifiers == c.Modifiers
}

func (c Chord) String() string {
	if c.Modifiers == 0 {
		return c.Key.String()
	}
	return c.Modifiers.String() + "+" + c.Key.String()
}
