package streambuf

import (
	"fmt"
	"log/slog"
	"sync"
)

// Receiver reassembles stream-part packets into a backing Buffer. One
// Receiver is created per streamId on arrival of its first part.
type Receiver struct {
	StreamID   uint32
	StreamType StreamType
	parts      uint32
	seen       uint32
	buffer     *Buffer
	onComplete func(*Buffer)
}

// NewReceiver creates a receiver expecting the given number of parts,
// writing into buffer. onComplete fires once, after the last expected part
// is written.
func NewReceiver(streamID uint32, streamType StreamType, parts uint32, buffer *Buffer, onComplete func(*Buffer)) *Receiver {
	return &Receiver{StreamID: streamID, StreamType: streamType, parts: parts, buffer: buffer, onComplete: onComplete}
}

// Feed writes one part's body into the backing buffer. Part indices are not
// required to arrive in order for correctness here: the buffer always
// appends at its current end, and completion is counted by the number of
// parts fed, not by a max-seen index, matching the wire contract's use of
// Parts as an expected total.
func (r *Receiver) Feed(body []byte) error {
	if r.seen >= r.parts {
		return fmt.Errorf("stream %d: received more parts than declared (%d)", r.StreamID, r.parts)
	}
	if _, err := r.buffer.Write(body); err != nil {
		return fmt.Errorf("stream %d: write part: %w", r.StreamID, err)
	}
	r.seen++

	if r.seen == r.parts {
		slog.Debug("stream receiver complete", "stream_id", r.StreamID, "parts", r.parts)
		if r.onComplete != nil {
			r.onComplete(r.buffer)
		}
	}
	return nil
}

// Complete reports whether every declared part has been fed.
func (r *Receiver) Complete() bool {
	return r.seen >= r.parts
}

// SenderState is a stream sender's lifecycle state.
type SenderState uint8

const (
	SenderInit SenderState = iota
	SenderSending
	SenderCompleted
	SenderCancelled
)

// Sender drains a Buffer in MaxPacketBody-sized chunks, producing packets
// with increasing part index for a given streamId. State, sent, and
// partsSent are read from the ticker goroutine (via State) and mutated from
// whichever session's send loop owns the sender (via Next/Cancel), so both
// are guarded by mu rather than relying on single-goroutine ownership.
type Sender struct {
	StreamID uint32
	buffer   *Buffer
	size     int64 // total size to send; 0 means "unknown, follow buffer growth"

	mu        sync.Mutex
	sent      int64
	partsSent uint32
	state     SenderState
}

// NewSender creates a sender over buffer. size is the total number of bytes
// the sender must emit before it can report Completed; pass the buffer's
// current BytesReadable() when the full size is already known (e.g. a
// disk-backed resource), or 0 to follow the buffer's growth indefinitely: a
// sender created with size 0 never reaches Completed on its own and stops
// only when cancelled.
func NewSender(streamID uint32, buffer *Buffer, size int64) *Sender {
	return &Sender{StreamID: streamID, buffer: buffer, size: size, state: SenderInit}
}

// State returns the sender's current lifecycle state.
func (s *Sender) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cancel marks the sender Cancelled; a subsequent Next returns no packet.
func (s *Sender) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SenderCancelled
}

// Next returns the next chunk to send, or (nil, false) if the buffer's
// readable range is currently empty (the "null packet" case — the caller's
// send loop should skip this tick and retry later) or the sender is done or
// cancelled.
func (s *Sender) Next() ([]byte, uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SenderCancelled || s.state == SenderCompleted {
		return nil, 0, false
	}
	s.state = SenderSending

	buf := make([]byte, MaxPacketBody)
	n, err := s.buffer.ReadAt(buf, s.sent)
	if err != nil || n == 0 {
		return nil, 0, false
	}

	part := s.partsSent
	s.partsSent++
	s.sent += int64(n)

	if s.size > 0 && s.sent >= s.size {
		s.state = SenderCompleted
	}
	return buf[:n], part, true
}
