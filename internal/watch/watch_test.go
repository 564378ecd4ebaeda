package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAddRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Stop()

	if err := w.Add(dir); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, ok := w.pathToWD[dir]; !ok {
		t.Fatalf("expected %s to be tracked after Add", dir)
	}

	if err := w.Add(dir); err != nil {
		t.Fatalf("second Add should be a no-op, got: %v", err)
	}

	if err := w.Remove(dir); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := w.pathToWD[dir]; ok {
		t.Fatalf("expected %s to be untracked after Remove", dir)
	}
}

func TestAddFromReturnsSyntheticEventsForExistingFiles(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "a.csv")
	f2 := filepath.Join(dir, "b.csv")
	if err := os.WriteFile(f1, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f2, []byte("y"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Stop()

	events, err := w.AddFrom(dir)
	if err != nil {
		t.Fatalf("AddFrom: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (subdirectory should be skipped)", len(events))
	}
	for _, ev := range events {
		if ev.Mask != Added || !ev.Synthetic {
			t.Errorf("event %+v: want Mask=Added, Synthetic=true", ev)
		}
		if !ev.Stat.Valid {
			t.Errorf("event %+v: expected a valid stat snapshot", ev)
		}
	}
}

func TestBeginCanOnlyBeCalledOnce(t *testing.T) {
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Stop()

	if err := w.Begin(func(*FileEvent) bool { return true }); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if err := w.Begin(func(*FileEvent) bool { return true }); err != ErrAlreadyRunning {
		t.Fatalf("second Begin = %v, want ErrAlreadyRunning", err)
	}
}

func TestLiveCreateEventInvokesCallback(t *testing.T) {
	dir := t.TempDir()

	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Stop()
	w.SetAutoAdd(false)

	if err := w.Add(dir); err != nil {
		t.Fatalf("Add: %v", err)
	}

	seen := make(chan *FileEvent, 1)
	if err := w.Begin(func(ev *FileEvent) bool {
		if ev.Mask&Created != 0 {
			seen <- ev
		}
		return true
	}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	target := filepath.Join(dir, "new.csv")
	if err := os.WriteFile(target, []byte("z"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-seen:
		if ev.Path != target {
			t.Errorf("Path = %s, want %s", ev.Path, target)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for create event")
	}
}

func TestStatPathClassifiesFileTypeAndPermissions(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "regular")
	if err := os.WriteFile(f, []byte("x"), 0664); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(f, 0664); err != nil {
		t.Fatal(err)
	}

	st := StatPath(f)
	if !st.Valid {
		t.Fatal("expected a valid stat")
	}
	if st.IsDir() || st.IsChar() {
		t.Errorf("regular file misclassified: IsDir=%v IsChar=%v", st.IsDir(), st.IsChar())
	}
	if !st.GroupReadWrite() {
		t.Errorf("0664 should be treated as group read+write, perm=%#o", st.Perm)
	}

	dirStat := StatPath(dir)
	if !dirStat.IsDir() {
		t.Errorf("expected %s to be classified as a directory", dir)
	}
}

func TestStatPathMissingFileIsInvalid(t *testing.T) {
	st := StatPath(filepath.Join(t.TempDir(), "nope"))
	if st.Valid {
		t.Error("expected Valid=false for a nonexistent path")
	}
}
