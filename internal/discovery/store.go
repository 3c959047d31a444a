// Package discovery holds the aggregated, incrementally-updated view of
// every annotated service the scanner has found across a project's
// files. Driven from a file-watch goroutine (internal/bundleradapter) on
// one side and read from the codegen path on the other, so the map is
// RWMutex-guarded.
package discovery

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/alloyhq/alloy/internal/model"
	"github.com/alloyhq/alloy/internal/scanner"
)

type fileEntry struct {
	src          []byte
	services     []model.DiscoveredService
	deferredKeys map[string]struct{}
}

// Store is the per-file cache of scan results, keyed by canonical
// (slash-normalized) file path.
type Store struct {
	mu      sync.RWMutex
	entries map[string]fileEntry
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]fileEntry)}
}

func canonical(fileID string) string {
	return filepath.ToSlash(fileID)
}

// Update rescans fileID's source and replaces its entry, returning the
// newly-discovered services/deferred-keys and whatever the file
// previously contributed (empty slices/maps on first discovery).
func (s *Store) Update(fileID string, src []byte) (newServices []model.DiscoveredService, newDeferred map[string]struct{}, priorServices []model.DiscoveredService, priorDeferred map[string]struct{}, err error) {
	id := canonical(fileID)

	result, scanErr := scanner.ParseFile(id, src)
	if scanErr != nil {
		return nil, nil, nil, nil, scanErr
	}

	s.mu.Lock()
	prior, had := s.entries[id]
	s.entries[id] = fileEntry{src: src, services: result.Services, deferredKeys: result.DeferredKeys}
	s.mu.Unlock()

	if !had {
		return result.Services, result.DeferredKeys, nil, nil, nil
	}
	return result.Services, result.DeferredKeys, prior.services, prior.deferredKeys, nil
}

// Remove evicts fileID's entry, returning what it previously
// contributed. Idempotent: removing an already-absent file returns empty
// sets with no error.
func (s *Store) Remove(fileID string) (priorServices []model.DiscoveredService, priorDeferred map[string]struct{}) {
	id := canonical(fileID)

	s.mu.Lock()
	defer s.mu.Unlock()
	prior, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	delete(s.entries, id)
	return prior.services, prior.deferredKeys
}

// Clear resets the store to empty.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]fileEntry)
}

// Services returns every currently-known service across all files,
// sorted by (file path, class name) so codegen's output is independent
// of scan order.
func (s *Store) Services() []model.DiscoveredService {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.DiscoveredService
	for _, entry := range s.entries {
		out = append(out, entry.services...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FilePath != out[j].FilePath {
			return out[i].FilePath < out[j].FilePath
		}
		return out[i].ClassName < out[j].ClassName
	})
	return out
}

// DeferredKeys returns the union of every file's deferred-reference keys.
func (s *Store) DeferredKeys() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]struct{})
	for _, entry := range s.entries {
		for k := range entry.deferredKeys {
			out[k] = struct{}{}
		}
	}
	return out
}

// Snapshot returns fileID's last-scanned source, for manifest emitters
// that want to re-embed original source text.
func (s *Store) Snapshot(fileID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[canonical(fileID)]
	if !ok {
		return nil, false
	}
	return entry.src, true
}
