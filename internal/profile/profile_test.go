package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apptrigger/internal/action"
	"apptrigger/internal/trigger"
)

const sampleJSON = `{
  "version": "1.0.0.0",
  "name": "work",
  "scan_interval_ms": 1500,
  "autostart": true,
  "triggers": [
    {
      "name": "editor",
      "kind": "Keybind",
      "key": "Ctrl+Alt+E",
      "actions": [{"kind": "Launch", "executable_path": "/usr/bin/editor"}]
    },
    {
      "name": "vpn-up",
      "kind": "AppLaunch",
      "process_name": "vpnclient",
      "actions": [
        {"kind": "Launch", "executable_path": "/usr/bin/mail"},
        {"kind": "Focus", "target": "mail", "conditions": [{"kind": "PreviousActionSuccess"}]}
      ]
    }
  ]
}`

func TestDecodeJSON(t *testing.T) {
	p, err := Decode([]byte(sampleJSON))
	require.NoError(t, err)

	assert.Equal(t, "work", p.Name)
	assert.True(t, p.Autostart)
	require.Len(t, p.Triggers, 2)
	assert.Zero(t, p.Triggers[0].PollingIntervalMs)
	assert.Equal(t, 1500, p.Triggers[1].PollingIntervalMs, "pollers inherit the scan interval")
	assert.Equal(t, action.Focus, p.Triggers[1].Actions[1].Kind)
}

func TestDecodeDefaults(t *testing.T) {
	p, err := Decode([]byte(`{"triggers": [{"name": "p", "kind": "NetworkPort", "port": 80}]}`))
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, p.Version)
	assert.Equal(t, DefaultScanIntervalMs, p.ScanIntervalMs)
	assert.Equal(t, DefaultScanIntervalMs, p.Triggers[0].PollingIntervalMs)
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]struct {
		doc string
		err error
	}{
		"newer major":    {`{"version": "2.0.0.0", "triggers": []}`, ErrUnsupportedVersion},
		"bad version":    {`{"version": "1.x", "triggers": []}`, ErrUnsupportedVersion},
		"bad kind":       {`{"triggers": [{"name": "a", "kind": "Gesture"}]}`, trigger.ErrUnsupportedTriggerType},
		"duplicate name": {`{"triggers": [{"name": "a", "kind": "Button"}, {"name": "a", "kind": "Button"}]}`, trigger.ErrDuplicateTrigger},
		"empty":          {"  ", ErrInvalidProfile},
		"malformed":      {`{"triggers": [`, ErrInvalidProfile},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(tc.doc))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2")
	require.NoError(t, err)
	assert.Equal(t, Version{1, 2, 0, 0}, v)
	assert.Equal(t, "1.2.0.0", v.String())

	_, err = ParseVersion("1.2.3.4.5")
	assert.Error(t, err)
	_, err = ParseVersion("-1.0")
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	p, err := Decode([]byte(sampleJSON))
	require.NoError(t, err)

	data, err := p.ToYAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "process_name: vpnclient")

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	p, err := Decode([]byte(sampleJSON))
	require.NoError(t, err)

	for _, name := range []string{"work.json", "work.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, p))
		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, p, loaded)
	}

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ErrProfileNotFound)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files are left behind")
}

func TestSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, Settings{}, s)

	s = Settings{LastProfile: "work", Window: Window{X: 10, Y: 20, Width: 800, Height: 600}}
	require.NoError(t, SaveSettings(path, s))
	got, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(t.TempDir())

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"work", "home"} {
		require.NoError(t, store.Save(ctx, New(name)))
	}
	names, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "work"}, names)

	p, err := store.Load(ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, "home", p.Name)

	require.NoError(t, store.Delete(ctx, "home"))
	assert.ErrorIs(t, store.Delete(ctx, "home"), ErrProfileNotFound)
	assert.ErrorIs(t, store.Save(ctx, New("../escape")), ErrInvalidProfile)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work.json")
	p, err := Decode([]byte(sampleJSON))
	require.NoError(t, err)
	require.NoError(t, Save(path, p))

	changes := make(chan *Profile, 4)
	w := NewWatcher(path, func(p *Profile) { changes <- p }, WithDebounce(20*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	// rewriting identical content is not a change
	require.NoError(t, Save(path, p))
	select {
	case <-changes:
		t.Fatal("reload without a content change")
	case <-time.After(100 * time.Millisecond):
	}

	p.Triggers = p.Triggers[:1]
	require.NoError(t, Save(path, p))
	select {
	case got := <-changes:
		assert.Len(t, got.Triggers, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("profile change not noticed")
	}

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestWatcherPicksUpProfileCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "later.json")

	changes := make(chan *Profile, 4)
	w := NewWatcher(path, func(p *Profile) { changes <- p }, WithDebounce(20*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	p, err := Decode([]byte(sampleJSON))
	require.NoError(t, err)
	require.NoError(t, Save(path, p))
	select {
	case got := <-changes:
		assert.Len(t, got.Triggers, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("new profile not noticed")
	}
}

// TestNATSStore exercises the KV bucket against a live JetStream server.
func TestNATSStore(t *testing.T) {
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		t.Skip("NATS server not available, skipping integration test")
		return
	}
	defer nc.Close()

	store, err := NewNATSStore(nc, "apptrigger_test_profiles", nil)
	if err != nil {
		t.Skipf("JetStream not available: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan string, 4)
	require.NoError(t, store.Watch(ctx, func(name string, p *Profile) {
		if name == "kv-test" && p != nil {
			updates <- name
		}
	}))

	require.NoError(t, store.Save(ctx, New("kv-test")))
	defer store.Delete(ctx, "kv-test")

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe the save")
	}
	_, ok := store.Cached("kv-test")
	assert.True(t, ok)

	loaded, err := store.Load(ctx, "kv-test")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, loaded.Version)
}
