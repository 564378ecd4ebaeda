// Package kbd wraps a single /dev/input/event* character device: exclusive
// grab, blocking reads, and the identity check used for hot-plug recovery.
// Device identification (open, name, input ID) leans on
// github.com/holoplot/go-evdev; the exclusive grab and the actual read
// loop are done on a raw fd with golang.org/x/sys/unix.
package kbd

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// State is the lifecycle of a Keyboard handle.
type State int

const (
	// StateOpen: fd held but no exclusive grab; events may be read but
	// are ignored by the dispatcher.
	StateOpen State = iota
	// StateLocked: exclusive grab held, events are authoritative.
	StateLocked
	// StateDisabled: grab released, fd closed, awaiting replug.
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateLocked:
		return "LOCKED"
	case StateDisabled:
		return "DISABLED"
	default:
		return "?"
	}
}

// Error wraps a failure reading from or grabbing a device.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("keyboard %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Keyboard is one physical keyboard, identified by kernel-supplied
// vendor/product/version/name rather than by path, since devices move
// between event* numbers on replug.
type Keyboard struct {
	mu       sync.Mutex
	path     string
	identity Identity
	fd       int
	state    State
}

// Open opens path, identifies the device, and leaves it in StateOpen;
// no grab is taken yet.
func Open(path string) (*Keyboard, error) {
	id, err := identify(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	return &Keyboard{
		path:     path,
		identity: id,
		fd:       fd,
		state:    StateOpen,
	}, nil
}

// Path returns the device's current path (changes across a Reset).
func (k *Keyboard) Path() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.path
}

// Name returns the device's kernel-reported name.
func (k *Keyboard) Name() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.identity.Name
}

// State returns the keyboard's current state.
func (k *Keyboard) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// Lock performs an exclusive grab (EVIOCGRAB) so the kernel stops
// delivering events on this device to any other consumer.
func (k *Keyboard) Lock() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.fd < 0 {
		return &Error{Path: k.path, Err: errors.New("device closed")}
	}
	if err := grab(k.fd); err != nil {
		return &Error{Path: k.path, Err: err}
	}
	k.state = StateLocked
	return nil
}

// Get blocks reading the next input record. It fails when the fd is gone
// (device unplugged).
func (k *Keyboard) Get(ev *KeyEvent) error {
	k.mu.Lock()
	fd := k.fd
	k.mu.Unlock()

	if fd < 0 {
		return &Error{Path: k.path, Err: errors.New("device closed")}
	}

	buf := make([]byte, inputEventSize)
	read := 0
	for read < inputEventSize {
		n, err := unix.Read(fd, buf[read:])
		if err != nil {
			return &Error{Path: k.path, Err: err}
		}
		if n == 0 {
			return &Error{Path: k.path, Err: io.EOF}
		}
		read += n
	}

	*ev = decodeInputEvent(buf)
	return nil
}

// Disable releases the grab implicitly (closing the fd always does) and
// closes the descriptor, moving the state to StateDisabled.
func (k *Keyboard) Disable() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.fd >= 0 {
		_ = unix.Close(k.fd)
		k.fd = -1
	}
	k.state = StateDisabled
}

// Reset re-opens a new path for a previously-disabled keyboard (used
// after replug). The state is left at StateOpen; the caller is expected
// to Lock() immediately after a successful Reset.
func (k *Keyboard) Reset(path string) error {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return &Error{Path: path, Err: err}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.path = path
	k.fd = fd
	k.state = StateOpen
	return nil
}

// IsMe returns true iff the device at path is the same physical keyboard
// this handle was originally created for.
func (k *Keyboard) IsMe(path string) bool {
	id, err := identify(path)
	if err != nil {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return id == k.identity
}

// evIOCGRAB is EVIOCGRAB, _IOW('E', 0x90, int), computed from scratch
// since it isn't exported by the evdev library in use.
const (
	iocNRBits    = 8
	iocTypeBits  = 8
	iocSizeBits  = 14
	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
	iocWrite     = 1
)

func iocReq(dir, typ, nr, size uint32) uint {
	return uint((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

var evIOCGRAB = iocReq(iocWrite, uint32('E'), 0x90, 4)

func grab(fd int) error {
	return unix.IoctlSetInt(fd, evIOCGRAB, 1)
}
