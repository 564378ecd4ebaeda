// Package watch is a filesystem watcher built on fsnotify, generalized to
// an add/addFrom/remove/removeFrom/begin contract that lets a caller
// enumerate a directory's existing entries and its subsequent changes
// through the same callback path.
package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"
)

// Mask is a bitfield describing what happened to a watched path.
type Mask uint32

const (
	Created Mask = 1 << iota
	Modified
	DeletedSelf
	MovedFrom
	MovedTo
	Added // synthetic: delivered by addFrom for pre-existing entries
)

func (m Mask) String() string {
	var parts []string
	for bit, name := range map[Mask]string{
		Created:     "CREATED",
		Modified:    "MODIFIED",
		DeletedSelf: "DELETED_SELF",
		MovedFrom:   "MOVED_FROM",
		MovedTo:     "MOVED_TO",
		Added:       "ADDED",
	} {
		if m&bit != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	s := parts[0]
	for _, p := range parts[1:] {
		s += "|" + p
	}
	return s
}

// Stat is a best-effort snapshot of a path's mode and owner at the time
// an event was processed. Valid is false when the stat() call failed
// (e.g. the file was already gone), in which case the other fields are
// zero but the event is still delivered so deletions remain observable.
type Stat struct {
	Raw   uint32 // raw st_mode, including the S_IFMT file-type bits
	Perm  uint32 // Raw & 0777
	UID   uint32
	Valid bool
}

// IsDir reports whether the stat snapshot describes a directory.
func (s Stat) IsDir() bool { return s.Valid && s.Raw&unix.S_IFMT == unix.S_IFDIR }

// IsChar reports whether the stat snapshot describes a character device.
func (s Stat) IsChar() bool { return s.Valid && s.Raw&unix.S_IFMT == unix.S_IFCHR }

// GroupReadWrite reports whether the group permission bits grant both
// read and write.
func (s Stat) GroupReadWrite() bool { return s.Perm&0o060 == 0o060 }

// StatPath returns a best-effort stat snapshot for path, usable outside a
// running Watcher (e.g. the dispatcher's hot-plug permission poll).
func StatPath(path string) Stat {
	return statSnapshot(path)
}

func statSnapshot(path string) Stat {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return Stat{}
	}
	return Stat{
		Raw:   uint32(st.Mode),
		Perm:  uint32(st.Mode) & 0o777,
		UID:   st.Uid,
		Valid: true,
	}
}

// IOError wraps a failure from the underlying kernel watch call.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("watch %s: %v", e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// ErrAlreadyRunning is returned by Begin when called a second time on the
// same Watcher.
var ErrAlreadyRunning = errors.New("watch: Begin already called")

// FileEvent describes a single change observed for a watched path.
type FileEvent struct {
	Path      string
	Mask      Mask
	Stat      Stat
	Synthetic bool
}

// Callback processes one FileEvent on the Watcher's worker goroutine.
// Returning false stops the worker.
type Callback func(*FileEvent) bool

// Watcher wraps an fsnotify.Watcher, adding addFrom/removeFrom synthetic
// replay, directory/auto-add gating, and single-callback dispatch.
type Watcher struct {
	mu        sync.Mutex
	fsw       *fsnotify.Watcher
	pathToWD  map[string]int
	wdToPath  map[int]string
	nextWD    int
	watchDirs bool
	autoAdd   bool
	begun     bool
}

// New creates a Watcher with autoAdd enabled by default.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &IOError{Path: "", Err: err}
	}
	return &Watcher{
		fsw:      fsw,
		pathToWD: make(map[string]int),
		wdToPath: make(map[int]string),
		autoAdd:  true,
	}, nil
}

// SetWatchDirs controls whether the callback fires for events whose
// target is itself a directory entry.
func (w *Watcher) SetWatchDirs(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watchDirs = v
}

// SetAutoAdd controls whether newly-created entries inside a watched
// directory are automatically added to the watch.
func (w *Watcher) SetAutoAdd(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.autoAdd = v
}

// Add registers path with the kernel. Idempotent: re-adding an
// already-watched path is a silent no-op.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addLocked(abs)
}

func (w *Watcher) addLocked(abs string) error {
	if _, ok := w.pathToWD[abs]; ok {
		return nil
	}
	if err := w.fsw.Add(abs); err != nil {
		return &IOError{Path: abs, Err: err}
	}
	w.nextWD++
	wd := w.nextWD
	w.pathToWD[abs] = wd
	w.wdToPath[wd] = abs
	return nil
}

// Remove unregisters path. Removing an unwatched path is a silent no-op.
func (w *Watcher) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.removeLocked(abs)
}

func (w *Watcher) removeLocked(abs string) error {
	wd, ok := w.pathToWD[abs]
	if !ok {
		return nil
	}
	_ = w.fsw.Remove(abs) // best-effort: path may already be gone from the kernel's view
	delete(w.pathToWD, abs)
	delete(w.wdToPath, wd)
	return nil
}

// AddFrom adds dir itself (so later creations inside it are seen) plus
// every regular file directly contained in dir. Subdirectories are not
// recursed. Returns a synthetic FileEvent (mask=Added, synthetic=true)
// for each file added, so initial contents traverse the same callback
// path as live changes.
func (w *Watcher) AddFrom(dir string) ([]*FileEvent, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &IOError{Path: dir, Err: err}
	}

	w.mu.Lock()
	if err := w.addLocked(abs); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.mu.Unlock()

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, &IOError{Path: abs, Err: err}
	}

	var events []*FileEvent
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		p := filepath.Join(abs, e.Name())

		w.mu.Lock()
		addErr := w.addLocked(p)
		w.mu.Unlock()
		if addErr != nil {
			continue
		}

		events = append(events, &FileEvent{
			Path:      p,
			Mask:      Added,
			Stat:      statSnapshot(p),
			Synthetic: true,
		})
	}

	return events, nil
}

// RemoveFrom removes dir and every path currently watched that sits
// directly inside it.
func (w *Watcher) RemoveFrom(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return &IOError{Path: dir, Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for p := range w.pathToWD {
		if filepath.Dir(p) == abs {
			_ = w.removeLocked(p)
		}
	}
	return w.removeLocked(abs)
}

// Begin spawns a worker goroutine reading fsnotify events, pairing each
// with a best-effort stat snapshot, and invoking callback with the
// result. May only be called once per Watcher.
func (w *Watcher) Begin(callback Callback) error {
	w.mu.Lock()
	if w.begun {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.begun = true
	w.mu.Unlock()

	go w.run(callback)
	return nil
}

func (w *Watcher) run(callback Callback) {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			fe := w.translate(ev)
			if fe == nil {
				continue
			}
			if w.shouldAutoAdd(ev) {
				_ = w.Add(ev.Name)
			}
			if !callback(fe) {
				return
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Kernel-level watcher errors are not tied to a single path;
			// nothing actionable to hand the callback, so they are dropped
			// here. Registry/dispatcher operations that depend on a
			// specific add() still get their own IOError.
		}
	}
}

func (w *Watcher) shouldAutoAdd(ev fsnotify.Event) bool {
	if ev.Op&fsnotify.Create == 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.autoAdd {
		return false
	}
	info, err := os.Stat(ev.Name)
	if err != nil || info.IsDir() {
		return false
	}
	return true
}

func (w *Watcher) translate(ev fsnotify.Event) *FileEvent {
	var mask Mask
	switch {
	case ev.Op&fsnotify.Create != 0:
		mask = Created
	case ev.Op&fsnotify.Write != 0:
		mask = Modified
	case ev.Op&fsnotify.Chmod != 0:
		mask = Modified
	case ev.Op&fsnotify.Remove != 0:
		mask = DeletedSelf
	case ev.Op&fsnotify.Rename != 0:
		mask = MovedFrom
	default:
		return nil
	}

	st := statSnapshot(ev.Name)

	w.mu.Lock()
	watchDirs := w.watchDirs
	w.mu.Unlock()

	if !watchDirs && st.IsDir() {
		return nil
	}

	return &FileEvent{
		Path: ev.Name,
		Mask: mask,
		Stat: st,
	}
}

// Stop requests worker termination. Because the worker is parked on a
// channel read, Stop is not guaranteed to take effect before the next
// already-queued event is delivered; this is a best-effort soft-stop.
func (w *Watcher) Stop() {
	_ = w.fsw.Close()
}
