package udev

import (
	"errors"
	"testing"

	"github.com/hawck-project/hawck-inputd/internal/kbd"
)

type fakeVKBD struct {
	downs   []int
	ups     []int
	closed  bool
	failOn  int
	failErr error
}

func (f *fakeVKBD) KeyDown(key int) error {
	if key == f.failOn {
		return f.failErr
	}
	f.downs = append(f.downs, key)
	return nil
}

func (f *fakeVKBD) KeyUp(key int) error {
	if key == f.failOn {
		return f.failErr
	}
	f.ups = append(f.ups, key)
	return nil
}

func (f *fakeVKBD) Close() error {
	f.closed = true
	return nil
}

func TestEmitKeyDown(t *testing.T) {
	fake := &fakeVKBD{failOn: -1}
	s := &Sink{vkbd: fake}

	if err := s.Emit(kbd.KeyEvent{Type: evKey, Code: 30, Value: 1}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(fake.downs) != 1 || fake.downs[0] != 30 {
		t.Errorf("downs = %v, want [30]", fake.downs)
	}
}

func TestEmitKeyUp(t *testing.T) {
	fake := &fakeVKBD{failOn: -1}
	s := &Sink{vkbd: fake}

	if err := s.Emit(kbd.KeyEvent{Type: evKey, Code: 30, Value: 0}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(fake.ups) != 1 || fake.ups[0] != 30 {
		t.Errorf("ups = %v, want [30]", fake.ups)
	}
}

func TestEmitKeyRepeatIsTreatedAsDown(t *testing.T) {
	fake := &fakeVKBD{failOn: -1}
	s := &Sink{vkbd: fake}

	if err := s.Emit(kbd.KeyEvent{Type: evKey, Code: 30, Value: 2}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(fake.downs) != 1 {
		t.Errorf("expected value=2 (repeat) to be treated as a key-down")
	}
}

func TestEmitSynEventIsANoOp(t *testing.T) {
	fake := &fakeVKBD{failOn: -1}
	s := &Sink{vkbd: fake}

	if err := s.Emit(kbd.KeyEvent{Type: evSyn, Code: 0, Value: 0}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(fake.downs) != 0 || len(fake.ups) != 0 {
		t.Error("SYN events must not reach the virtual device")
	}
}

func TestEmitPropagatesBackendError(t *testing.T) {
	wantErr := errors.New("uinput write failed")
	fake := &fakeVKBD{failOn: 30, failErr: wantErr}
	s := &Sink{vkbd: fake}

	err := s.Emit(kbd.KeyEvent{Type: evKey, Code: 30, Value: 1})
	if !errors.Is(err, wantErr) {
		t.Errorf("Emit error = %v, want %v", err, wantErr)
	}
}

func TestFlushIsANoOp(t *testing.T) {
	s := &Sink{vkbd: &fakeVKBD{failOn: -1}}
	if err := s.Flush(); err != nil {
		t.Errorf("Flush: %v", err)
	}
}

func TestCloseDelegatesToBackend(t *testing.T) {
	fake := &fakeVKBD{failOn: -1}
	s := &Sink{vkbd: fake}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fake.closed {
		t.Error("expected the backend to be closed")
	}
}
