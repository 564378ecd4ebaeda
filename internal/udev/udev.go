// Package udev is the virtual-keyboard sink: Emit writes one synthetic
// event, and the backend syncs after each one, so Flush writes nothing
// and a group of emitted events is not made visible as one unit. Built on
// github.com/bendahl/uinput for low-level uinput device creation.
package udev

import (
	"fmt"

	"github.com/bendahl/uinput"

	"github.com/hawck-project/hawck-inputd/internal/kbd"
)

const (
	evSyn = 0x00
	evKey = 0x01
)

// virtualKeyboard is the subset of uinput.Keyboard this package actually
// calls. Keeping it narrow lets tests substitute a fake without needing
// a real /dev/uinput device.
type virtualKeyboard interface {
	KeyDown(key int) error
	KeyUp(key int) error
	Close() error
}

// Sink wraps a virtual uinput keyboard device.
type Sink struct {
	vkbd virtualKeyboard
}

// Create opens /dev/uinput and advertises a full keyboard key set under
// the given device name.
func Create(uinputPath string, name string) (*Sink, error) {
	vkbd, err := uinput.CreateKeyboard(uinputPath, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("create virtual keyboard: %w", err)
	}
	return &Sink{vkbd: vkbd}, nil
}

// Emit writes one synthetic event to the virtual device. SYN events read
// verbatim off a physical keyboard are dropped here rather than
// forwarded, since every KeyDown/KeyUp call against this backend already
// emits its own sync report; Flush exists purely to satisfy the
// emit/flush barrier contract callers rely on.
func (s *Sink) Emit(ev kbd.KeyEvent) error {
	switch ev.Type {
	case evSyn:
		return nil
	case evKey:
		switch ev.Value {
		case 0:
			return s.vkbd.KeyUp(int(ev.Code))
		case 1, 2:
			return s.vkbd.KeyDown(int(ev.Code))
		}
		return nil
	default:
		return nil
	}
}

// Flush is called after every logical group (a single re-emitted key, or
// an entire macro-daemon reply stream) but writes nothing: each
// KeyDown/KeyUp already carries its own sync report, so events reach
// consumers one at a time and a multi-event group is not delivered
// atomically.
func (s *Sink) Flush() error {
	return nil
}

// Close releases the virtual device.
func (s *Sink) Close() error {
	return s.vkbd.Close()
}
