package streambuf

import "testing"

func TestReceiverCompletesAfterDeclaredParts(t *testing.T) {
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf, _ := p.Add(1, StreamResource, 2)

	var completed *Buffer
	r := NewReceiver(1, StreamResource, 2, buf, func(b *Buffer) { completed = b })

	if r.Complete() {
		t.Fatalf("Complete() true before any part fed")
	}
	if err := r.Feed([]byte("part-a")); err != nil {
		t.Fatalf("Feed 1: %v", err)
	}
	if r.Complete() {
		t.Fatalf("Complete() true after 1 of 2 parts")
	}
	if err := r.Feed([]byte("part-b")); err != nil {
		t.Fatalf("Feed 2: %v", err)
	}
	if !r.Complete() {
		t.Fatalf("Complete() false after all parts fed")
	}
	if completed == nil {
		t.Fatalf("onComplete callback never fired")
	}
	if completed.BytesReadable() != int64(len("part-apart-b")) {
		t.Fatalf("completed buffer has %d bytes readable", completed.BytesReadable())
	}
}

func TestReceiverRejectsExtraParts(t *testing.T) {
	p, _ := New(t.TempDir())
	buf, _ := p.Add(2, StreamResource, 1)
	r := NewReceiver(2, StreamResource, 1, buf, nil)

	if err := r.Feed([]byte("only")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := r.Feed([]byte("extra")); err == nil {
		t.Fatalf("expected error feeding beyond declared parts")
	}
}

func TestSenderEmitsOrderedChunksThenCompletes(t *testing.T) {
	p, _ := New(t.TempDir())
	buf, _ := p.Add(3, StreamResource, 1)
	payload := make([]byte, MaxPacketBody+10)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := buf.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	s := NewSender(3, buf, int64(len(payload)))

	chunk1, part1, ok := s.Next()
	if !ok || part1 != 0 || len(chunk1) != MaxPacketBody {
		t.Fatalf("first chunk: ok=%v part=%d len=%d", ok, part1, len(chunk1))
	}
	if s.State() != SenderSending {
		t.Fatalf("state after first chunk = %v, want Sending", s.State())
	}

	chunk2, part2, ok := s.Next()
	if !ok || part2 != 1 || len(chunk2) != 10 {
		t.Fatalf("second chunk: ok=%v part=%d len=%d", ok, part2, len(chunk2))
	}
	if s.State() != SenderCompleted {
		t.Fatalf("state after final chunk = %v, want Completed", s.State())
	}

	if _, _, ok := s.Next(); ok {
		t.Fatalf("Next() after completion should return false")
	}
}

func TestSenderEmitsNoPacketOnEmptyReadableRange(t *testing.T) {
	p, _ := New(t.TempDir())
	buf, _ := p.Add(4, StreamResource, 5)
	s := NewSender(4, buf, 0)

	if _, _, ok := s.Next(); ok {
		t.Fatalf("expected no packet while buffer is empty")
	}

	if _, err := buf.Write([]byte("now there is data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, _, ok := s.Next(); !ok {
		t.Fatalf("expected a packet once data became available")
	}
}

func TestSenderCancel(t *testing.T) {
	p, _ := New(t.TempDir())
	buf, _ := p.Add(5, StreamResource, 1)
	buf.Write([]byte("data"))

	s := NewSender(5, buf, 4)
	s.Cancel()
	if _, _, ok := s.Next(); ok {
		t.Fatalf("Next() after Cancel should return false")
	}
	if s.State() != SenderCancelled {
		t.Fatalf("State() = %v, want Cancelled", s.State())
	}
}
