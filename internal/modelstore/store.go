// Package modelstore persists trained detectors as versionable
// artifacts on disk, one file per detector name.
package modelstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opensource-security/shrike/internal/detector"
	"github.com/opensource-security/shrike/internal/domain"
)

const artifactExt = ".model"

// envelope wraps a serialized detector with the kind needed to pick the
// right adapter on load.
type envelope struct {
	Kind string
	Blob []byte
}

// Store reads and writes detector artifacts under a single directory.
type Store struct {
	dir string
	cfg domain.ModelsConfig
}

// New creates the store, creating the artifact directory if needed.
func New(cfg domain.ModelsConfig) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("model store directory not configured")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &Store{dir: cfg.Dir, cfg: cfg}, nil
}

// Save writes a fitted detector under the given name, overwriting any
// previous artifact.
func (s *Store) Save(name string, d domain.Detector) error {
	blob, err := d.MarshalBinary()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Kind: d.Kind(), Blob: blob}); err != nil {
		return fmt.Errorf("encode artifact %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name+artifactExt)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}

// Load restores the named detector, returning domain.ErrNotFound when
// no artifact exists.
func (s *Store) Load(name string) (domain.Detector, error) {
	path := filepath.Join(s.dir, name+artifactExt)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, name)
		}
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}

	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", name, err)
	}

	d, err := detector.New(env.Kind, s.cfg)
	if err != nil {
		return nil, err
	}
	if err := d.UnmarshalBinary(env.Blob); err != nil {
		return nil, fmt.Errorf("restore %s: %w", name, err)
	}
	return d, nil
}

// List returns the names of every stored artifact, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read model dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), artifactExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), artifactExt))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named artifact, returning domain.ErrNotFound when
// no artifact exists.
func (s *Store) Delete(name string) error {
	path := filepath.Join(s.dir, name+artifactExt)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, name)
		}
		return fmt.Errorf("delete artifact %s: %w", name, err)
	}
	return nil
}
