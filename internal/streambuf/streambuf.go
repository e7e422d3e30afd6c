// Package streambuf is the server-wide pool of in-flight stream buffers:
// temporary storage for attachment bytes moving between a stream receiver
// and one or more stream senders, with idle-based eviction and fallback to
// an on-disk copy under tmpDir.
package streambuf

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// StreamType mirrors the wire package's stream type without importing it,
// keeping this package protocol-agnostic.
type StreamType uint8

const (
	StreamUndefined StreamType = iota
	StreamRequest
	StreamResource
)

// MaxPacketBody is the chunk size used to derive a persisted file's part
// count; it matches the sender/receiver's packetizing unit.
const MaxPacketBody = 64 * 1024

// IdleTimeout is how long a buffer may go unread/unwritten before the pool's
// background reaper drops it.
const IdleTimeout = 60 * time.Second

// ErrDuplicate is returned when Add is called with an id already
// present in the pool.
var ErrDuplicate = errors.New("stream buffer: duplicate stream id")

// Buffer is one in-flight (or disk-backed) stream's state.
type Buffer struct {
	StreamID   uint32
	StreamType StreamType
	Parts      uint32

	mu            sync.Mutex
	data          []byte
	bytesReadable int64
	lastActivity  time.Time
	file          *os.File // non-nil when backed by a persisted tmp/<id> file
}

// BytesReadable returns the current readable length.
func (b *Buffer) BytesReadable() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesReadable
}

// LastActivity returns the timestamp of the most recent read or write.
func (b *Buffer) LastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastActivity
}

// Write appends to the buffer, advancing bytesReadable by the number of
// bytes actually written, and refreshes lastActivity.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int
	var err error
	if b.file != nil {
		n, err = b.file.Write(p)
	} else {
		b.data = append(b.data, p...)
		n = len(p)
	}
	b.bytesReadable += int64(n)
	b.lastActivity = time.Now()
	return n, err
}

// ReadAt returns up to len(p) bytes starting at offset, clamped to
// bytesReadable - offset (possibly zero), without blocking. It refreshes
// lastActivity.
func (b *Buffer) ReadAt(p []byte, offset int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	avail := b.bytesReadable - offset
	if avail <= 0 {
		b.lastActivity = time.Now()
		return 0, nil
	}
	want := int64(len(p))
	if want > avail {
		want = avail
	}

	var n int
	var err error
	if b.file != nil {
		n, err = b.file.ReadAt(p[:want], offset)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	} else {
		n = copy(p, b.data[offset:offset+want])
	}
	b.lastActivity = time.Now()
	return n, err
}

func (b *Buffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file != nil {
		_ = b.file.Close()
	}
}

// Pool is the process-wide map of live stream buffers, guarded by one mutex,
// with fallback to a persisted tmp/<id> file for buffers that outlived their
// creating session.
type Pool struct {
	tmpDir string

	mu      sync.Mutex
	buffers map[uint32]*Buffer
}

// New returns an empty pool persisting completed resource streams under
// tmpDir.
func New(tmpDir string) (*Pool, error) {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create stream tmp dir: %w", err)
	}
	return &Pool{tmpDir: tmpDir, buffers: make(map[uint32]*Buffer)}, nil
}

// Add registers a new in-memory buffer for streamID. It fails with
// ErrDuplicate if the id is already present.
func (p *Pool) Add(streamID uint32, streamType StreamType, parts uint32) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.buffers[streamID]; exists {
		return nil, ErrDuplicate
	}
	b := &Buffer{StreamID: streamID, StreamType: streamType, Parts: parts, lastActivity: time.Now()}
	p.buffers[streamID] = b
	return b, nil
}

// Get returns the live buffer for streamID if present; otherwise it attempts
// to open a previously persisted file at tmpDir/<streamID>, inserting and
// returning it on success.
func (p *Pool) Get(streamID uint32) (*Buffer, bool) {
	p.mu.Lock()
	if b, ok := p.buffers[streamID]; ok {
		p.mu.Unlock()
		return b, true
	}
	p.mu.Unlock()

	path := filepath.Join(p.tmpDir, strconv.FormatUint(uint64(streamID), 10))
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, false
	}
	size := info.Size()
	parts := uint32((size + MaxPacketBody - 1) / MaxPacketBody)
	if size == 0 {
		parts = 0
	}

	b := &Buffer{
		StreamID:      streamID,
		StreamType:    StreamResource,
		Parts:         parts,
		bytesReadable: size,
		lastActivity:  time.Now(),
		file:          f,
	}

	p.mu.Lock()
	if existing, ok := p.buffers[streamID]; ok {
		p.mu.Unlock()
		_ = f.Close()
		return existing, true
	}
	p.buffers[streamID] = b
	p.mu.Unlock()

	slog.Info("stream buffer reopened from disk", "stream_id", streamID, "size", humanize.Bytes(uint64(size)))
	return b, true
}

// Persist flushes an in-memory buffer's contents to tmpDir/<streamID>,
// writing to a staging file first and renaming it into place atomically so
// a crash mid-flush never leaves a half-written file at the final path.
func (p *Pool) Persist(streamID uint32) error {
	p.mu.Lock()
	b, ok := p.buffers[streamID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("persist stream %d: not found in pool", streamID)
	}

	b.mu.Lock()
	data := b.data
	alreadyFile := b.file != nil
	b.mu.Unlock()
	if alreadyFile {
		return nil
	}

	staging := filepath.Join(p.tmpDir, ".stream-"+uuid.NewString())
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		return fmt.Errorf("write staging file: %w", err)
	}

	final := filepath.Join(p.tmpDir, strconv.FormatUint(uint64(streamID), 10))
	if err := os.Rename(staging, final); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("rename staging file into place: %w", err)
	}

	slog.Debug("stream buffer persisted", "stream_id", streamID, "size", humanize.Bytes(uint64(len(data))))
	return nil
}

// Remove drops streamID from the pool, closing any backing file handle.
func (p *Pool) Remove(streamID uint32) {
	p.mu.Lock()
	b, ok := p.buffers[streamID]
	if ok {
		delete(p.buffers, streamID)
	}
	p.mu.Unlock()
	if ok {
		b.close()
	}
}

// ReapIdle drops every buffer whose lastActivity is older than IdleTimeout,
// returning the ids removed. Intended to be called from the server's 2s
// ticker.
func (p *Pool) ReapIdle(now time.Time) []uint32 {
	p.mu.Lock()
	var stale []*Buffer
	var ids []uint32
	for id, b := range p.buffers {
		if now.Sub(b.LastActivity()) > IdleTimeout {
			ids = append(ids, id)
			stale = append(stale, b)
			delete(p.buffers, id)
		}
	}
	p.mu.Unlock()

	for _, b := range stale {
		b.close()
	}
	if len(ids) > 0 {
		slog.Debug("reaped idle stream buffers", "count", len(ids))
	}
	return ids
}

// Count returns the number of live buffers, for the admin surface.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}
