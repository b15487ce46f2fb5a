// Package store implements aurforge's persistent, process-wide key/value
// state: reviewed PKGBUILD commits, the build-artifact cache index, and
// module fingerprints. It is saved atomically (tempfile, fsync, rename)
// and round-trips Go sets through a tagged-union JSON envelope so they
// survive a load/save cycle without degrading to plain arrays.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/kiviktnm/aurforge/internal/aerr"
)

// Well-known logical keys used by the core components.
const (
	// KeyReviewedCommits maps pkgbase -> last reviewed git commit id,
	// stored as a Set of "pkgbase=commit" strings, one per pkgbase.
	KeyReviewedCommits = "pkgbuild_latest_reviewed_commits"
	// KeyPackageFileCache maps pkgname -> cache.Entry list (JSON form).
	KeyPackageFileCache = "package_file_cache"
)

// Set is a JSON-round-trippable string set. It marshals as
// {"__type__":"set","items":[...]} and unmarshals either that envelope or
// a bare JSON array, so a hand-authored store file is still readable.
type Set map[string]struct{}

// NewSet builds a Set from the given items.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}

	return s
}

// Add inserts an item.
func (s Set) Add(item string) { s[item] = struct{}{} }

// Contains reports whether item is in the set.
func (s Set) Contains(item string) bool {
	_, ok := s[item]
	return ok
}

// Items returns the set's members as a slice, in no particular order.
func (s Set) Items() []string {
	items := make([]string, 0, len(s))
	for item := range s {
		items = append(items, item)
	}

	return items
}

type setEnvelope struct {
	Type  string   `json:"__type__"`
	Items []string `json:"items"`
}

// MarshalJSON implements json.Marshaler.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(setEnvelope{Type: "set", Items: s.Items()})
}

// UnmarshalJSON implements json.Unmarshaler, accepting either the tagged
// envelope or a bare array.
func (s *Set) UnmarshalJSON(data []byte) error {
	var envelope setEnvelope
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Type == "set" {
		*s = NewSet(envelope.Items...)
		return nil
	}

	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}

	*s = NewSet(items...)

	return nil
}

// Store is a persistent, process-wide key/value state container. All
// logical keys it holds are opaque to Store itself; components agree on
// key names and value shapes out of band (see the Key* constants).
type Store struct {
	mu     sync.Mutex
	path   string
	dryRun bool
	data   map[string]json.RawMessage
}

// Load reads the store at path if it exists, or starts empty otherwise.
// In dry-run mode Save becomes a no-op, matching a reconciliation preview
// that must not persist state.
func Load(path string, dryRun bool) (*Store, error) {
	s := &Store{path: path, dryRun: dryRun, data: make(map[string]json.RawMessage)}

	bytes, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}

		return nil, aerr.Wrapf(err, aerr.KindFileSystem, "failed to read store at %q", path)
	}

	if err := json.Unmarshal(bytes, &s.data); err != nil {
		return nil, aerr.Wrapf(err, aerr.KindParse, "failed to decode store at %q", path)
	}

	return s, nil
}

// Get decodes the value stored at key into out, reporting whether key was
// present at all.
func (s *Store) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return true, aerr.Wrapf(err, aerr.KindParse, "failed to decode store key %q", key)
	}

	return true, nil
}

// Put encodes value and stores it under key, overwriting any prior value.
func (s *Store) Put(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(value)
	if err != nil {
		return aerr.Wrapf(err, aerr.KindInternal, "failed to encode store key %q", key)
	}

	s.data[key] = raw

	return nil
}

// Ensure stores default under key only if key is not already present.
func (s *Store) Ensure(key string, def any) error {
	s.mu.Lock()
	_, present := s.data[key]
	s.mu.Unlock()

	if present {
		return nil
	}

	return s.Put(key, def)
}

// Save persists the store atomically: write to a temp file in the same
// directory, fsync, then rename over the destination. No-op in dry-run
// mode.
func (s *Store) Save() error {
	if s.dryRun {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return aerr.Wrapf(err, aerr.KindFileSystem, "failed to create store directory %q", dir)
	}

	tmp, err := os.CreateTemp(dir, ".store-*.json.tmp")
	if err != nil {
		return aerr.Wrap(err, aerr.KindFileSystem, "failed to create temporary store file")
	}
	tmpPath := tmp.Name()

	encoded, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck

		return aerr.Wrap(err, aerr.KindInternal, "failed to encode store")
	}

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck

		return aerr.Wrap(err, aerr.KindFileSystem, "failed to write store")
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck

		return aerr.Wrap(err, aerr.KindFileSystem, "failed to fsync store")
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return aerr.Wrap(err, aerr.KindFileSystem, "failed to close store")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return aerr.Wrap(err, aerr.KindFileSystem, "failed to rename store into place")
	}

	return nil
}

// Acquire returns the store and a release function that saves it. Callers
// should defer the release so the store is always saved on exit:
//
//	s, release := store.Acquire(s)
//	defer func() { err = errors.Join(err, release()) }()
func Acquire(s *Store) (*Store, func() error) {
	return s, s.Save
}
