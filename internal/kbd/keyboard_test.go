package kbd

import (
	"encoding/binary"
	"os"
	"testing"
)

func writeRawEvent(t *testing.T, w *os.File, typ, code uint16, value int32) {
	t.Helper()
	buf := make([]byte, inputEventSize)
	binary.LittleEndian.PutUint16(buf[16:18], typ)
	binary.LittleEndian.PutUint16(buf[18:20], code)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(value))
	if _, err := w.Write(buf); err != nil {
		t.Fatal(err)
	}
}

func TestGetDecodesRawEvent(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	k := &Keyboard{path: "test", fd: int(r.Fd()), state: StateLocked}

	writeRawEvent(t, w, 1, 30, 1)

	var ev KeyEvent
	if err := k.Get(&ev); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ev.Type != 1 || ev.Code != 30 || ev.Value != 1 {
		t.Errorf("got %+v, want {Type:1 Code:30 Value:1}", ev)
	}
}

func TestGetOnClosedFdErrors(t *testing.T) {
	k := &Keyboard{path: "closed", fd: -1}
	var ev KeyEvent
	if err := k.Get(&ev); err == nil {
		t.Fatal("expected an error reading from a closed keyboard")
	}
}

func TestDisableClosesAndTransitionsState(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	k := &Keyboard{path: "p", fd: int(r.Fd()), state: StateLocked}
	k.Disable()

	if k.State() != StateDisabled {
		t.Errorf("State() = %v, want StateDisabled", k.State())
	}
	if k.fd != -1 {
		t.Errorf("fd = %d, want -1 after Disable", k.fd)
	}
}

func TestLockOnClosedKeyboardErrors(t *testing.T) {
	k := &Keyboard{path: "closed", fd: -1, state: StateDisabled}
	if err := k.Lock(); err == nil {
		t.Fatal("expected Lock on a closed keyboard to fail")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateOpen:     "OPEN",
		StateLocked:   "LOCKED",
		StateDisabled: "DISABLED",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %s, want %s", state, got, want)
		}
	}
}

func TestMultiplexReturnsLowestReadyIndex(t *testing.T) {
	r1, w1, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r1.Close()
	defer w1.Close()
	r2, w2, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	defer w2.Close()

	k1 := &Keyboard{path: "k1", fd: int(r1.Fd()), state: StateLocked}
	k2 := &Keyboard{path: "k2", fd: int(r2.Fd()), state: StateLocked}

	if _, err := w2.Write([]byte{1}); err != nil {
		t.Fatal(err)
	}

	idx, err := Multiplex([]*Keyboard{k1, k2}, 200)
	if err != nil {
		t.Fatalf("Multiplex: %v", err)
	}
	if idx != 1 {
		t.Errorf("idx = %d, want 1", idx)
	}
}

func TestMultiplexTimesOutWithNoReadyFds(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	k := &Keyboard{path: "k", fd: int(r.Fd()), state: StateLocked}

	idx, err := Multiplex([]*Keyboard{k}, 20)
	if err != nil {
		t.Fatalf("Multiplex: %v", err)
	}
	if idx != -1 {
		t.Errorf("idx = %d, want -1 on timeout", idx)
	}
}

func TestMultiplexEmptyListReturnsImmediately(t *testing.T) {
	idx, err := Multiplex(nil, 1000)
	if err != nil {
		t.Fatalf("Multiplex: %v", err)
	}
	if idx != -1 {
		t.Errorf("idx = %d, want -1", idx)
	}
}
