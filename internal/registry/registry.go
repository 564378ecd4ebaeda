// Package registry owns the passthrough key set: which key codes are
// handed to the macro daemon instead of being emitted directly, and
// which on-disk CSV file contributed each one. It is hot-reloaded from
// the watch.Watcher callback on the registry's own worker goroutine; the
// dispatcher only ever reads it on the event fast-path.
package registry

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/hawck-project/hawck-inputd/internal/hlog"
	"github.com/hawck-project/hawck-inputd/internal/watch"
)

// requiredPerm is the file mode a passthrough CSV must carry to be
// trusted.
const requiredPerm = 0o644

// Registry holds the set of passthrough key codes and an index of which
// on-disk file contributed each one. A single mutex guards both; readers
// take it for the duration of one membership test.
type Registry struct {
	mu      sync.RWMutex
	keys    map[int32]struct{}
	sources map[string][]int32

	watcher *watch.Watcher
	log     *hlog.Logger
}

// New creates an empty Registry. watcher is used to keep newly-loaded
// CSV files under observation for subsequent edits.
func New(watcher *watch.Watcher, log *hlog.Logger) *Registry {
	return &Registry{
		keys:    make(map[int32]struct{}),
		sources: make(map[string][]int32),
		watcher: watcher,
		log:     log,
	}
}

// Contains reports whether code is currently a passthrough key.
func (r *Registry) Contains(code int32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[code]
	return ok
}

// Len returns the number of codes currently in the PassthroughSet.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// canonical resolves path to its absolute, symlink-free form (realpath).
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// File may not exist yet under its final name during a rapid
		// create+rename; fall back to the absolute path.
		return abs, nil
	}
	return resolved, nil
}

// LoadPassthrough canonicalises path, reloading it if already indexed,
// reads it as CSV, and inserts every non-negative key_code cell into the
// passthrough set. A malformed CSV or missing column only logs and is
// never fatal: a file not yet indexed leaves the Registry unchanged, while
// an already-indexed file has had its previous contribution removed.
func (r *Registry) LoadPassthrough(path string) error {
	cpath, err := canonical(path)
	if err != nil {
		return fmt.Errorf("canonicalize %s: %w", path, err)
	}

	r.mu.Lock()
	if _, ok := r.sources[cpath]; ok {
		r.unloadLocked(cpath)
	}
	r.mu.Unlock()

	codes, err := loadCSVKeyCodes(cpath)
	if err != nil {
		r.log.Warnf("passthrough load %s: %v", cpath, err)
		return nil
	}

	r.mu.Lock()
	r.sources[cpath] = codes
	for _, c := range codes {
		r.keys[c] = struct{}{}
	}
	r.mu.Unlock()

	if r.watcher != nil {
		if err := r.watcher.Add(cpath); err != nil {
			r.log.Warnf("watch %s: %v", cpath, err)
		}
	}

	r.log.Infof("loaded %s (%d codes)", cpath, len(codes))
	return nil
}

// UnloadPassthrough removes every code contributed by path from the
// passthrough set, then rebuilds the set from the union of the remaining
// sources' contributions.
func (r *Registry) UnloadPassthrough(path string) error {
	cpath, err := canonical(path)
	if err != nil {
		return fmt.Errorf("canonicalize %s: %w", path, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloadLocked(cpath)
	return nil
}

func (r *Registry) unloadLocked(cpath string) {
	if _, ok := r.sources[cpath]; !ok {
		return
	}
	delete(r.sources, cpath)

	r.keys = make(map[int32]struct{})
	for _, codes := range r.sources {
		for _, c := range codes {
			r.keys[c] = struct{}{}
		}
	}
}

// LoadPassthroughEvent is the gating wrapper consulted from the watch
// callback: it only accepts a file whose mode is exactly 0644 and whose
// owner is this process's real uid, rejecting everything else with a
// log line.
func (r *Registry) LoadPassthroughEvent(ev *watch.FileEvent) error {
	if !ev.Stat.Valid {
		r.log.Warnf("passthrough reject %s: could not stat", ev.Path)
		return nil
	}
	if ev.Stat.Perm != requiredPerm {
		r.log.Warnf("passthrough reject %s: mode %#o (want %#o)", ev.Path, ev.Stat.Perm, requiredPerm)
		return nil
	}
	if ev.Stat.UID != uint32(os.Getuid()) {
		r.log.Warnf("passthrough reject %s: owned by uid %d, not %d", ev.Path, ev.Stat.UID, os.Getuid())
		return nil
	}
	r.log.Infof("passthrough accept %s", ev.Path)
	return r.LoadPassthrough(ev.Path)
}

// loadCSVKeyCodes reads path as CSV with a header row and returns every
// parseable, non-negative value in the "key_code" column. Cells that fail
// to parse, or are negative, are silently skipped.
func loadCSVKeyCodes(path string) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	col := -1
	for i, h := range header {
		if h == "key_code" {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, fmt.Errorf("no key_code column")
	}

	var codes []int32
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if col >= len(record) {
			continue
		}
		n, err := strconv.Atoi(record[col])
		if err != nil || n < 0 {
			continue
		}
		codes = append(codes, int32(n))
	}

	return codes, nil
}
