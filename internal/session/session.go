package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"zway/server/internal/store"
	"zway/server/internal/streambuf"
	"zway/server/internal/wire"
)

// Conn is the minimal transport a Session drives; net.Conn satisfies it,
// and tests substitute net.Pipe or an in-memory implementation.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

type outboundPacket struct {
	head wire.Head
	body []byte
}

// Session is one TLS connection's state machine plus its request
// engine bookkeeping.
type Session struct {
	host       Host
	conn       Conn
	remoteHost string

	status    atomic.Int32
	accountID atomic.Uint32

	mu       sync.Mutex
	contacts map[uint32]*ContactConfig
	config   Config

	pending   *pendingTable
	outbound  chan outboundPacket
	nextReqID atomic.Uint32

	streamMu sync.Mutex
	senders  map[uint32]*streambuf.Sender
	receiver *activeReceiver

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	heartbeat *time.Timer
	hbMu      sync.Mutex
	wg        sync.WaitGroup
}

type activeReceiver struct {
	streamID uint32
	recv     *streambuf.Receiver
}

// New creates a session over conn with a random 32-bit placeholder id. It
// does not register the session with host; the caller adds it to the
// registry under AccountID(). Call Run to start its receive/send loops.
func New(host Host, conn Conn, remoteHost string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		host:       host,
		conn:       conn,
		remoteHost: remoteHost,
		contacts:   make(map[uint32]*ContactConfig),
		pending:    newPendingTable(),
		outbound:   make(chan outboundPacket, 64),
		senders:    make(map[uint32]*streambuf.Sender),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.status.Store(int32(StatusConnected))
	s.accountID.Store(placeholderID())
	return s
}

func placeholderID() uint32 {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	v := binary.BigEndian.Uint32(buf[:])
	if v == 0 {
		v = 1
	}
	return v
}

// Status returns the session's current state.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// AccountID returns the session's registry key: a random placeholder before
// login, the authenticated account id after.
func (s *Session) AccountID() uint32 { return s.accountID.Load() }

// RemoteHost returns the peer address recorded at accept time.
func (s *Session) RemoteHost() string { return s.remoteHost }

// Run starts the receive and send loops and blocks until both exit. Callers
// typically invoke it in its own goroutine per accepted connection. A panic
// in either loop is logged and closes the session instead of crashing the
// process.
func (s *Session) Run() {
	s.resetHeartbeat()
	s.wg.Add(2)
	guard := func(name string, loop func()) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("session loop panic", "loop", name, "account_id", s.AccountID(), "panic", r)
				s.Close()
			}
		}()
		loop()
	}
	go guard("send", s.sendLoop)
	go guard("receive", s.receiveLoop)
	s.wg.Wait()
}

// Close cancels the session's timers and context, closes its socket, and
// unregisters it from the host. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.hbMu.Lock()
		if s.heartbeat != nil {
			s.heartbeat.Stop()
		}
		s.hbMu.Unlock()
		_ = s.conn.Close()
		s.status.Store(int32(StatusDisconnected))
		s.host.Unregister(s)
		s.pending.clear()
	})
}

func (s *Session) resetHeartbeat() {
	s.hbMu.Lock()
	defer s.hbMu.Unlock()
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	s.heartbeat = time.AfterFunc(HeartbeatTimeout, s.onHeartbeatExpired)
}

func (s *Session) onHeartbeatExpired() {
	slog.Info("session heartbeat expired", "account_id", s.AccountID(), "remote", s.remoteHost)
	if s.host.DisconnectOnHeartbeatTimeout() {
		s.Close()
	}
}

// isSilentCloseErr reports whether err represents a normal/cancelled
// connection teardown that must not be logged as a bug.
func isSilentCloseErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

func (s *Session) receiveLoop() {
	defer s.wg.Done()
	defer s.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		pkt, err := wire.ReadPacket(s.conn)
		if err != nil {
			var malformed *wire.MalformedHeadError
			if errors.As(err, &malformed) {
				slog.Warn("malformed packet head", "account_id", s.AccountID(), "err", err)
				continue
			}
			if !isSilentCloseErr(err) {
				slog.Error("transport read error", "account_id", s.AccountID(), "err", err)
			}
			return
		}

		s.resetHeartbeat()
		s.classify(pkt)
	}
}

func (s *Session) classify(pkt wire.Packet) {
	switch pkt.Head.Kind {
	case wire.KindRequest:
		s.handleIncomingRequest(pkt.Head, pkt.Body)
	case wire.KindResponse:
		s.handleIncomingResponse(pkt.Body)
	case wire.KindStreamPart:
		s.feedStream(pkt.Head, pkt.Body)
	default:
		slog.Warn("unknown packet kind", "kind", pkt.Head.Kind)
	}
}

func (s *Session) handleIncomingResponse(body []byte) {
	resp, err := wire.DecodeResponse(body)
	if err != nil {
		slog.Warn("malformed response body", "err", err)
		return
	}
	s.pending.resolve(resp.RequestID, resp)
}

// enqueueRequest writes fields as a request packet's body and registers a
// pending-table entry for its response.
func (s *Session) enqueueRequest(reqType wire.RequestType, fields map[string]any, cb func(wire.ResponseEnvelope)) uint32 {
	id := s.nextReqID.Add(1)
	body, err := wire.EncodeRequest(id, reqType, fields)
	if err != nil {
		slog.Error("encode outbound request", "err", err)
		return 0
	}
	if cb != nil {
		s.pending.register(id, PendingEntry{Type: reqType, Callback: cb})
	}
	s.enqueuePacket(wire.Head{ID: id, Kind: wire.KindRequest, BodySize: uint32(len(body))}, body)
	return id
}

// enqueueResponse writes a response packet for an incoming request id.
func (s *Session) enqueueResponse(requestID uint32, status uint32, errMsg string, fields map[string]any) {
	body, err := wire.EncodeResponse(requestID, status, errMsg, fields)
	if err != nil {
		slog.Error("encode outbound response", "err", err)
		return
	}
	s.enqueuePacket(wire.Head{ID: requestID, Kind: wire.KindResponse, BodySize: uint32(len(body))}, body)
}

func (s *Session) enqueuePacket(head wire.Head, body []byte) {
	select {
	case s.outbound <- outboundPacket{head: head, body: body}:
	case <-s.ctx.Done():
	}
}

func (s *Session) sendLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case pkt := <-s.outbound:
			if err := s.write(pkt.head, pkt.body); err != nil {
				return
			}
		case <-ticker.C:
			s.pumpStreamSenders()
		}
	}
}

func (s *Session) write(head wire.Head, body []byte) error {
	if err := wire.Encode(s.conn, head, body); err != nil {
		if !isSilentCloseErr(err) {
			slog.Error("transport write error", "account_id", s.AccountID(), "err", err)
		}
		return err
	}
	s.resetHeartbeat()
	return nil
}

// pumpStreamSenders asks each registered stream sender for its next chunk
// and, if one is available, writes it as a stream-part packet. A sender
// with no readable data right now simply produces nothing this tick (the
// "null packet" case); it is retried on the next tick.
func (s *Session) pumpStreamSenders() {
	s.streamMu.Lock()
	senders := make(map[uint32]*streambuf.Sender, len(s.senders))
	for id, sender := range s.senders {
		senders[id] = sender
	}
	s.streamMu.Unlock()

	for streamID, sender := range senders {
		chunk, part, ok := sender.Next()
		if !ok {
			if sender.State() == streambuf.SenderCompleted || sender.State() == streambuf.SenderCancelled {
				s.streamMu.Lock()
				delete(s.senders, streamID)
				s.streamMu.Unlock()
			}
			continue
		}
		head := wire.Head{
			Kind:       wire.KindStreamPart,
			StreamID:   streamID,
			StreamType: wire.StreamResource,
			Part:       part,
			BodySize:   uint32(len(chunk)),
		}
		if err := s.write(head, chunk); err != nil {
			return
		}
	}
}

// RegisterSender adds a stream sender this session's send loop will drain on
// its ticker, used when the server hands this session work to relay stream
// bytes to its peer.
func (s *Session) RegisterSender(streamID uint32, sender *streambuf.Sender) {
	s.streamMu.Lock()
	s.senders[streamID] = sender
	s.streamMu.Unlock()
}

// HasSender reports whether this session already has a sender registered for
// streamID, so a caller delivering the same pending request more than once
// does not hand it a fresh Sender over the same bytes each time.
func (s *Session) HasSender(streamID uint32) bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	_, ok := s.senders[streamID]
	return ok
}

func (s *Session) feedStream(head wire.Head, body []byte) {
	s.streamMu.Lock()
	recv := s.receiver
	if recv == nil || recv.streamID != head.StreamID {
		buffer, err := s.host.Streams().Add(head.StreamID, streambuf.StreamType(head.StreamType), head.Parts)
		if err != nil {
			s.streamMu.Unlock()
			slog.Warn("create stream receiver failed", "stream_id", head.StreamID, "err", err)
			return
		}
		streamID := head.StreamID
		r := streambuf.NewReceiver(streamID, streambuf.StreamType(head.StreamType), head.Parts, buffer, func(b *streambuf.Buffer) {
			s.onStreamComplete(streamID, b)
		})
		recv = &activeReceiver{streamID: streamID, recv: r}
		s.receiver = recv
	}
	s.streamMu.Unlock()

	if err := recv.recv.Feed(body); err != nil {
		slog.Warn("stream feed failed", "stream_id", head.StreamID, "err", err)
		return
	}
	if recv.recv.Complete() {
		s.streamMu.Lock()
		if s.receiver == recv {
			s.receiver = nil
		}
		s.streamMu.Unlock()
	}
}

// onStreamComplete is the resource-stream completion callback: it persists
// the buffer to disk and inserts a Dispatch request so the stream can be
// reclaimed by a future session.
func (s *Session) onStreamComplete(streamID uint32, _ *streambuf.Buffer) {
	if err := s.host.Streams().Persist(streamID); err != nil {
		slog.Error("persist completed stream", "stream_id", streamID, "err", err)
		return
	}
	s.insertDispatchRequest(streamID)
}

// insertDispatchRequest records a completed resource stream as a Dispatch
// request so the uploading account can reclaim it (by dispatchId) on a
// future session, per the stream receiver's completion handling.
func (s *Session) insertDispatchRequest(streamID uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	self := s.AccountID()
	req := store.Request{
		ID:   streamID,
		Src:  self,
		Dst:  self,
		Type: store.RequestType(wire.RequestDispatch),
		Data: fmt.Sprintf("stream:%d", streamID),
	}
	if err := s.host.Store().AddRequest(ctx, req); err != nil {
		slog.Error("insert dispatch request", "stream_id", streamID, "err", err)
	}
}
