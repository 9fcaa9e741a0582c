package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store keeps named profiles.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Load(ctx context.Context, name string) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
	Delete(ctx context.Context, name string) error
}

// FileStore keeps one JSON file per profile in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file that holds the named profile.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: bad profile name %q", ErrInvalidProfile, name)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Load(ctx context.Context, name string) (*Profile, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	p, err := Load(s.Path(name))
	if err != nil {
		return nil, err
	}
	p.Name = name
	return p, nil
}

func (s *FileStore) Save(ctx context.Context, p *Profile) error {
	if err := validName(p.Name); err != nil {
		return err
	}
	return Save(s.Path(p.Name), p)
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := os.Remove(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return err
}
