package streambuf

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAddDuplicateFails(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Add(1, StreamResource, 3); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := p.Add(1, StreamResource, 3); err != ErrDuplicate {
		t.Fatalf("got %v, want ErrDuplicate", err)
	}
}

func TestWriteReadClampsToReadable(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _ := p.Add(1, StreamResource, 1)

	n, err := b.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("Write: n=%d err=%v", n, err)
	}
	if b.BytesReadable() != 5 {
		t.Fatalf("BytesReadable = %d, want 5", b.BytesReadable())
	}

	buf := make([]byte, 100)
	n, err = b.ReadAt(buf, 2)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 3 || string(buf[:n]) != "llo" {
		t.Fatalf("ReadAt got %q (n=%d)", buf[:n], n)
	}

	n, err = b.ReadAt(buf, 10)
	if err != nil || n != 0 {
		t.Fatalf("ReadAt past end: n=%d err=%v", n, err)
	}
}

func TestPersistThenGetReopensFromDisk(t *testing.T) {
	dir := t.TempDir()
	p, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, _ := p.Add(42, StreamResource, 1)
	if _, err := b.Write([]byte("resource payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Persist(42); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	p.Remove(42)

	reopened, ok := p.Get(42)
	if !ok {
		t.Fatalf("Get after persist+remove: not found")
	}
	buf := make([]byte, 32)
	n, err := reopened.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt reopened: %v", err)
	}
	if string(buf[:n]) != "resource payload" {
		t.Fatalf("reopened content = %q", buf[:n])
	}

	if _, err := filepath.Abs(filepath.Join(dir, "42")); err != nil {
		t.Fatalf("path: %v", err)
	}
}

func TestReapIdleRemovesStaleBuffers(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Add(1, StreamResource, 1)
	p.Add(2, StreamResource, 1)

	removed := p.ReapIdle(time.Now().Add(IdleTimeout + time.Second))
	if len(removed) != 2 {
		t.Fatalf("ReapIdle removed %d, want 2", len(removed))
	}
	if p.Count() != 0 {
		t.Fatalf("Count after reap = %d, want 0", p.Count())
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.Get(999); ok {
		t.Fatalf("Get(999) = true, want false")
	}
}
