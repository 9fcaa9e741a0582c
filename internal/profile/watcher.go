package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"apptrigger/internal/logging"
)

const defaultDebounce = 300 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before it is reloaded.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the watcher logger.
func WithWatchLogger(l logging.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// Watcher reloads a profile file when its content changes. It watches the containing
// directory so editors that save by renaming over the file are noticed.
type Watcher struct {
	path     string
	debounce time.Duration
	log      logging.Logger
	onChange func(*Profile)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	lastHash string
	mu       sync.Mutex
	pending  time.Time
}

// NewWatcher creates a watcher for path. onChange receives each successfully decoded
// new version; invalid edits are logged and skipped.
func NewWatcher(path string, onChange func(*Profile), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		log:      logging.Nop(),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start records the current content hash and begins watching. A profile that does not
// exist yet has an empty hash, so creating it later counts as a change.
func (w *Watcher) Start() error {
	hash, err := fileHash(w.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("profile watcher: initial hash: %w", err)
	}
	w.lastHash = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile watcher: create fsnotify: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("profile watcher: create %s: %w", dir, err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("profile watcher: watch %s: %w", dir, err)
	}
	w.fsWatcher = fsw

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop ends watching and waits for an in-flight reload. It is safe to call repeatedly.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error("profile watcher error", logging.Err(err))

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if ready {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	hash, err := fileHash(w.path)
	if err != nil {
		w.log.Warn("profile watcher: failed to read profile", logging.F("path", w.path), logging.Err(err))
		return
	}
	if hash == w.lastHash {
		w.log.Debug("profile unchanged, skipping reload", logging.F("path", w.path))
		return
	}

	p, err := Load(w.path)
	if err != nil {
		w.log.Error("profile watcher: failed to load profile", logging.F("path", w.path), logging.Err(err))
		return
	}
	w.log.Info("profile changed",
		logging.F("path", w.path),
		logging.F("old_hash", shortHash(w.lastHash)),
		logging.F("new_hash", shortHash(hash)))
	w.lastHash = hash
	w.onChange(p)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
