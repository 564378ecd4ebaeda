// Package dispatch is the main loop: it multiplexes locked keyboards,
// classifies each event against the passthrough registry, speaks the
// wire protocol to the macro daemon, and injects events into the uinput
// sink, with hot-plug recovery for unplugged and replugged devices.
package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hawck-project/hawck-inputd/internal/config"
	"github.com/hawck-project/hawck-inputd/internal/hlog"
	"github.com/hawck-project/hawck-inputd/internal/kbd"
	"github.com/hawck-project/hawck-inputd/internal/registry"
	"github.com/hawck-project/hawck-inputd/internal/sock"
	"github.com/hawck-project/hawck-inputd/internal/watch"
)

// eventSink is the subset of udev.Sink this package calls, narrow
// enough for tests to substitute a fake.
type eventSink interface {
	Emit(ev kbd.KeyEvent) error
	Flush() error
}

// FatalError is returned by Run when the macro daemon is considered dead;
// the process should exit non-zero.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return e.Reason }

// Dispatcher owns the two disjoint keyboard lists, the registry, the
// uinput sink, and the socket endpoint to the macro daemon.
type Dispatcher struct {
	cfg config.Config
	log *hlog.Logger

	reg  *registry.Registry
	sink eventSink

	kbdMu     sync.Mutex
	available []*kbd.Keyboard
	pulled    []*kbd.Keyboard

	sockPath string
	ep       *sock.Endpoint
	errors   int

	registryWatcher *watch.Watcher
	inputWatcher    *watch.Watcher
}

// New wires up a Dispatcher. sink and the initial keyboard set must
// already be constructed by the caller (cmd/hawck-inputd/main.go).
func New(cfg config.Config, log *hlog.Logger, sink eventSink, keyboards []*kbd.Keyboard) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		log:       log,
		sink:      sink,
		available: keyboards,
		sockPath:  cfg.SocketPath,
	}
}

// StartRegistryWatcher creates the passthrough-key Registry, replays the
// existing contents of dataDir/passthrough_keys through the same
// permission gate a live event would take, then begins watching for
// subsequent changes.
func (d *Dispatcher) StartRegistryWatcher() error {
	w, err := watch.New()
	if err != nil {
		return fmt.Errorf("registry watcher: %w", err)
	}
	d.registryWatcher = w
	d.reg = registry.New(w, d.log)

	passDir := d.cfg.PassthroughDir()
	initial, err := w.AddFrom(passDir)
	if err != nil {
		d.log.Warnf("passthrough dir %s: %v", passDir, err)
	}
	for _, ev := range initial {
		if err := d.reg.LoadPassthroughEvent(ev); err != nil {
			d.log.Warnf("initial load %s: %v", ev.Path, err)
		}
	}

	err = w.Begin(func(ev *watch.FileEvent) bool {
		switch {
		case ev.Mask&watch.DeletedSelf != 0:
			_ = d.reg.UnloadPassthrough(ev.Path)
		case ev.Mask&(watch.Created|watch.Modified) != 0:
			_ = d.reg.LoadPassthroughEvent(ev)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("registry watcher begin: %w", err)
	}
	return nil
}

// StartInputWatcher watches cfg.InputRoot for hot-plug/hot-unplug
// recovery: setWatchDirs(true) so events whose target is a directory are
// delivered too (recoverHotplug ignores anything not a character device),
// setAutoAdd(false) so devices are only tracked by the dispatcher's own
// keyboard lists, never auto-watched individually.
func (d *Dispatcher) StartInputWatcher() error {
	w, err := watch.New()
	if err != nil {
		return fmt.Errorf("input watcher: %w", err)
	}
	w.SetWatchDirs(true)
	w.SetAutoAdd(false)
	if err := w.Add(d.cfg.InputRoot); err != nil {
		return fmt.Errorf("watch %s: %w", d.cfg.InputRoot, err)
	}
	d.inputWatcher = w

	err = w.Begin(func(ev *watch.FileEvent) bool {
		if ev.Mask&(watch.Created|watch.MovedTo) != 0 {
			d.recoverHotplug(ev)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("input watcher begin: %w", err)
	}
	return nil
}

// recoverHotplug runs hot-plug recovery against every currently-pulled
// keyboard for a newly-appeared device node.
func (d *Dispatcher) recoverHotplug(ev *watch.FileEvent) {
	if filepath.Clean(ev.Path) == filepath.Clean(d.cfg.InputRoot) {
		return
	}
	if !ev.Stat.IsChar() {
		return
	}

	if !d.waitForGroupPermissions(ev.Path) {
		d.log.Warnf("Could not acquire permissions on %s", ev.Path)
		return
	}

	d.kbdMu.Lock()
	defer d.kbdMu.Unlock()

	for i, k := range d.pulled {
		if !k.IsMe(ev.Path) {
			continue
		}
		if err := k.Reset(ev.Path); err != nil {
			d.log.Warnf("reset %s: %v", ev.Path, err)
			return
		}
		if err := k.Lock(); err != nil {
			d.log.Warnf("lock %s: %v", ev.Path, err)
			return
		}
		d.pulled = append(d.pulled[:i], d.pulled[i+1:]...)
		d.available = append(d.available, k)
		d.log.Infof("recovered %s as %s", ev.Path, k.Name())
		return
	}
}

const hotplugPermCeiling = 5 * time.Second
const hotplugPermPoll = 100 * time.Microsecond

// waitForGroupPermissions polls stat on path until it is group-readable
// and -writable, up to a 5-second ceiling, guarding against udev not yet
// having applied its rules.
func (d *Dispatcher) waitForGroupPermissions(path string) bool {
	deadline := time.Now().Add(hotplugPermCeiling)
	for {
		st := watch.StatPath(path)
		if st.Valid && st.GroupReadWrite() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(hotplugPermPoll)
	}
}

// AddKeyboard opens, identifies, and locks the device at path, adding it
// to available_kbds. Used at startup for each CLI-supplied device path.
func (d *Dispatcher) AddKeyboard(path string) error {
	k, err := kbd.Open(path)
	if err != nil {
		return err
	}
	if err := k.Lock(); err != nil {
		return err
	}
	d.kbdMu.Lock()
	d.available = append(d.available, k)
	d.kbdMu.Unlock()
	return nil
}

// snapshotAvailable copies the available-keyboard list out under its
// mutex so Run can poll it without holding the lock.
func (d *Dispatcher) snapshotAvailable() []*kbd.Keyboard {
	d.kbdMu.Lock()
	defer d.kbdMu.Unlock()
	out := make([]*kbd.Keyboard, len(d.available))
	copy(out, d.available)
	return out
}

func (d *Dispatcher) pullKeyboard(target *kbd.Keyboard) {
	target.Disable()
	d.kbdMu.Lock()
	defer d.kbdMu.Unlock()
	for i, k := range d.available {
		if k == target {
			d.available = append(d.available[:i], d.available[i+1:]...)
			break
		}
	}
	d.pulled = append(d.pulled, target)
}

// Run executes the main loop until ctx is cancelled or a fatal condition
// is reached.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		snapshot := d.snapshotAvailable()
		idx, err := kbd.Multiplex(snapshot, d.cfg.MultiplexTimeoutMS)
		if err != nil {
			d.log.Errorf("multiplex: %v", err)
			continue
		}
		if idx < 0 {
			continue
		}

		target := snapshot[idx]
		var ev kbd.KeyEvent
		if err := target.Get(&ev); err != nil {
			d.log.Warnf("keyboard error on %s: %v", target.Path(), err)
			d.pullKeyboard(target)
			continue
		}
		if target.State() != kbd.StateLocked {
			continue
		}

		if !d.reg.Contains(int32(ev.Code)) {
			d.emitAndFlush(ev)
			continue
		}

		if err := d.runPassthrough(ctx, ev); err != nil {
			if fatal, ok := err.(*FatalError); ok {
				return fatal
			}
			return err
		}
	}
}

// runPassthrough sends the event to the macro daemon and relays its
// reply stream to the uinput sink, or falls back to re-emitting the
// original key on a socket error.
func (d *Dispatcher) runPassthrough(ctx context.Context, ev kbd.KeyEvent) error {
	action := sock.KBDAction{Ev: ev}

	if err := d.ensureConnected(); err != nil {
		return d.socketFailure(ev, err)
	}
	if err := d.ep.Send(action); err != nil {
		return d.socketFailure(ev, err)
	}

	for {
		recvCtx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.SocketRecvTimeoutMS)*time.Millisecond)
		var reply sock.KBDAction
		err := d.ep.Recv(recvCtx, &reply)
		cancel()
		if err != nil {
			return d.socketFailure(ev, err)
		}
		if reply.Done != 0 {
			break
		}
		if err := d.sink.Emit(reply.Ev); err != nil {
			d.log.Warnf("emit: %v", err)
		}
	}

	if err := d.sink.Flush(); err != nil {
		d.log.Warnf("flush: %v", err)
	}
	d.errors = 0
	return nil
}

// socketFailure increments the consecutive-error counter, logs, and
// falls back to re-emitting the original key so the user still sees the
// keystroke. After MaxConsecutiveErrors it closes the socket and returns a
// FatalError so the caller can terminate the process.
func (d *Dispatcher) socketFailure(ev kbd.KeyEvent, cause error) error {
	d.log.Errorf("socket error: %v", cause)
	d.errors++
	if d.errors > d.cfg.MaxConsecutiveErrors {
		if d.ep != nil {
			_ = d.ep.Close()
			d.ep = nil
		}
		d.log.Criticalf("macro daemon unresponsive after %d consecutive errors, terminating", d.errors)
		return &FatalError{Reason: "macro daemon unresponsive"}
	}
	d.emitAndFlush(ev)
	return nil
}

func (d *Dispatcher) emitAndFlush(ev kbd.KeyEvent) {
	if err := d.sink.Emit(ev); err != nil {
		d.log.Warnf("emit: %v", err)
	}
	if err := d.sink.Flush(); err != nil {
		d.log.Warnf("flush: %v", err)
	}
}

func (d *Dispatcher) ensureConnected() error {
	if d.ep != nil {
		return nil
	}
	ep, err := sock.Dial(d.sockPath)
	if err != nil {
		return err
	}
	d.ep = ep
	return nil
}

// Close tears down the watchers and the socket endpoint.
func (d *Dispatcher) Close() {
	if d.registryWatcher != nil {
		d.registryWatcher.Stop()
	}
	if d.inputWatcher != nil {
		d.inputWatcher.Stop()
	}
	if d.ep != nil {
		_ = d.ep.Close()
	}
}
