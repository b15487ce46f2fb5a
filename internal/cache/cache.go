// Package cache implements the bounded, per-pkgname build-artifact cache:
// at most a configured number of built package files are retained per
// package name, oldest evicted first, and stale entries (whose file has
// been removed from disk) are skipped rather than trusted.
package cache

import (
	"os"
	"sort"
	"strings"

	"github.com/kiviktnm/aurforge/internal/aerr"
	"github.com/kiviktnm/aurforge/internal/logger"
)

// Entry is one cached build artifact for a package name.
type Entry struct {
	Version string `json:"version"`
	Path    string `json:"path"`
	AddedAt int64  `json:"added_at"`
}

// Clock abstracts the current time for deterministic tests.
type Clock func() int64

// Cache is the in-memory index of cached build artifacts, keyed by
// pkgname. It does not own the Store; callers persist Entries themselves
// (see internal/store's KeyPackageFileCache).
type Cache struct {
	limit         int
	develSuffixes []string
	clock         Clock
	entries       map[string][]Entry
}

// New constructs a Cache with the given per-pkgname limit and devel-suffix
// list, seeded from a previously persisted entries map (may be nil/empty).
func New(limit int, develSuffixes []string, clock Clock, seed map[string][]Entry) *Cache {
	entries := make(map[string][]Entry, len(seed))
	for name, es := range seed {
		cp := make([]Entry, len(es))
		copy(cp, es)
		entries[name] = cp
	}

	return &Cache{limit: limit, develSuffixes: develSuffixes, clock: clock, entries: entries}
}

// Entries returns a copy of the full entries map, for persisting back to
// the Store.
func (c *Cache) Entries() map[string][]Entry {
	out := make(map[string][]Entry, len(c.entries))
	for name, es := range c.entries {
		cp := make([]Entry, len(es))
		copy(cp, es)
		out[name] = cp
	}

	return out
}

// IsDevel reports whether pkgname carries one of the configured
// VCS-source suffixes (-git, -hg, -bzr, -svn, -cvs, -darcs by default),
// which marks it as never considered up to date for skip-detection.
func (c *Cache) IsDevel(pkgname string) bool {
	for _, suffix := range c.develSuffixes {
		if strings.HasSuffix(pkgname, suffix) {
			return true
		}
	}

	return false
}

// FindLatest returns the entry with the largest AddedAt timestamp among
// those whose file still exists on disk, or false if there is none.
func (c *Cache) FindLatest(pkgname string) (Entry, bool) {
	var (
		best  Entry
		found bool
	)

	for _, entry := range c.entries[pkgname] {
		if _, err := os.Stat(entry.Path); err != nil {
			continue
		}

		if !found || entry.AddedAt > best.AddedAt {
			best = entry
			found = true
		}
	}

	return best, found
}

// Add registers a newly built artifact for pkgname/version at path. It is
// a no-op if path is already recorded for pkgname. Once more than the
// configured limit of entries are present, the oldest are evicted and
// their files unlinked best-effort.
func (c *Cache) Add(pkgname, version, path string) error {
	for _, entry := range c.entries[pkgname] {
		if entry.Path == path {
			return nil
		}
	}

	c.entries[pkgname] = append(c.entries[pkgname], Entry{
		Version: version,
		Path:    path,
		AddedAt: c.clock(),
	})

	sort.Slice(c.entries[pkgname], func(i, j int) bool {
		return c.entries[pkgname][i].AddedAt < c.entries[pkgname][j].AddedAt
	})

	for len(c.entries[pkgname]) > c.limit {
		evicted := c.entries[pkgname][0]
		c.entries[pkgname] = c.entries[pkgname][1:]

		if err := os.Remove(evicted.Path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to unlink evicted cache artifact", "path", evicted.Path, "error", err)
		}
	}

	return nil
}

// ValidationError reports that no unique build artifact could be located
// for a pkgname/version prefix match.
func ValidationError(pkgname string, matches []string) error {
	return aerr.Newf(aerr.KindAmbiguous,
		"expected exactly one build artifact for %q, found %d: %v", pkgname, len(matches), matches)
}
