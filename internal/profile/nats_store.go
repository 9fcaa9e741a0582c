package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nats-io/nats.go"

	"apptrigger/internal/logging"
)

// NATSStore keeps profiles in a JetStream key-value bucket, one key per profile name,
// and mirrors the bucket in memory once LoadAll or Watch has run.
type NATSStore struct {
	kv  nats.KeyValue
	log logging.Logger

	mu    sync.RWMutex
	cache map[string]*Profile
}

// NewNATSStore creates or binds the bucket.
func NewNATSStore(nc *nats.Conn, bucketName string, log logging.Logger) (*NATSStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if log == nil {
		log = logging.Nop()
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	// Create KV bucket if it doesn't exist
	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: "apptrigger profiles",
		History:     5,
	})
	if err != nil {
		// If bucket exists, get it
		kv, err = js.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to get/create KV bucket: %w", err)
		}
	}

	return &NATSStore{
		kv:    kv,
		log:   log,
		cache: make(map[string]*Profile),
	}, nil
}

// LoadAll refreshes the in-memory mirror from the bucket.
func (s *NATSStore) LoadAll(ctx context.Context) error {
	keys, err := s.kv.Keys(nats.Context(ctx))
	if err != nil && !errors.Is(err, nats.ErrNoKeysFound) {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	cache := make(map[string]*Profile, len(keys))
	for _, key := range keys {
		entry, err := s.kv.Get(key)
		if err != nil {
			return fmt.Errorf("failed to get key %s: %w", key, err)
		}
		p, err := Decode(entry.Value())
		if err != nil {
			return fmt.Errorf("failed to decode profile %s: %w", key, err)
		}
		p.Name = key
		cache[key] = p
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

// Watch keeps the mirror current and calls onChange for every update; p is nil when
// the profile was deleted. It returns once the watch is established.
func (s *NATSStore) Watch(ctx context.Context, onChange func(name string, p *Profile)) error {
	watcher, err := s.kv.WatchAll(nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to watch bucket: %w", err)
	}

	go func() {
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the initial values
				if update == nil {
					continue
				}
				s.apply(update, onChange)
			}
		}
	}()
	return nil
}

func (s *NATSStore) apply(update nats.KeyValueEntry, onChange func(string, *Profile)) {
	key := update.Key()
	if op := update.Operation(); op == nats.KeyValueDelete || op == nats.KeyValuePurge {
		s.mu.Lock()
		delete(s.cache, key)
		s.mu.Unlock()
		if onChange != nil {
			onChange(key, nil)
		}
		return
	}

	p, err := Decode(update.Value())
	if err != nil {
		s.log.Warn("ignoring invalid profile update", logging.F("profile", key), logging.Err(err))
		return
	}
	p.Name = key
	s.mu.Lock()
	s.cache[key] = p
	s.mu.Unlock()
	if onChange != nil {
		onChange(key, p)
	}
}

// Cached returns the mirrored profile without a round trip.
func (s *NATSStore) Cached(name string) (*Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[name]
	return p, ok
}

func (s *NATSStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(nats.Context(ctx))
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *NATSStore) Load(ctx context.Context, name string) (*Profile, error) {
	entry, err := s.kv.Get(name)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", name, err)
	}
	p, err := Decode(entry.Value())
	if err != nil {
		return nil, err
	}
	p.Name = name
	return p, nil
}

func (s *NATSStore) Save(ctx context.Context, p *Profile) error {
	if err := validName(p.Name); err != nil {
		return err
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	if _, err := s.kv.Put(p.Name, data); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *NATSStore) Delete(ctx context.Context, name string) error {
	if err := s.kv.Delete(name); err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}
