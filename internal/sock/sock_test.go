package sock

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hawck-project/hawck-inputd/internal/kbd"
)

func TestSendRecvRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := New(a)
	server := New(b)

	action := KBDAction{
		Ev:   kbd.KeyEvent{Type: 1, Code: 30, Value: 1},
		Done: 0,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- client.Send(action) }()

	var got KBDAction
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Recv(ctx, &got); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("send: %v", err)
	}

	if got != action {
		t.Errorf("got %+v, want %+v", got, action)
	}
}

func TestRecvHonorsContextDeadline(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	server := New(b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var got KBDAction
	err := server.Recv(ctx, &got)
	if err == nil {
		t.Fatal("expected a timeout error, got nil")
	}
}

func TestDoneFlagRoundTrips(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	client := New(a)
	server := New(b)

	action := KBDAction{Ev: kbd.KeyEvent{Type: 1, Code: 44, Value: 0}, Done: 1}

	go func() { _ = client.Send(action) }()

	var got KBDAction
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Recv(ctx, &got); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if got.Done != 1 {
		t.Errorf("Done = %d, want 1", got.Done)
	}
}
