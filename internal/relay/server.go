// Package relay is the server supervisor: it owns the TLS accept
// socket, the session registry, the stream buffer pool, the active
// stream-sender list, and the 2-second maintenance ticker that reaps idle
// stream buffers and drops finished transfers from that list.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"zway/server/internal/push"
	"zway/server/internal/session"
	"zway/server/internal/store"
	"zway/server/internal/streambuf"
)

// tickInterval drives idle-stream reaping and pruning of finished stream
// senders; each session's own send loop advances the senders it holds.
const tickInterval = 2 * time.Second

// Options configures a Server beyond its required collaborators.
type Options struct {
	// DisconnectOnHeartbeatTimeout closes a session whose heartbeat expires
	// instead of only logging it. Off by default.
	DisconnectOnHeartbeatTimeout bool
}

type trackedTransfer struct {
	session  *session.Session
	streamID uint32
	sender   *streambuf.Sender
}

// Server is the relay's TLS connection supervisor. It implements
// session.Host so sessions can reach the store, stream pool, push notifier,
// and each other's registry entries without importing this package.
type Server struct {
	tlsConfig *tls.Config
	store     *store.Store
	streams   *streambuf.Pool
	pusher    *push.Notifier
	opts      Options

	mu       sync.Mutex
	sessions map[uint32][]*session.Session
	paused   bool
	listener net.Listener
	addr     string

	transfersMu sync.Mutex
	transfers   []*trackedTransfer

	ready atomic.Bool
	done  chan struct{}
}

// New constructs a Server bound to addr once Run is called. st, streams, and
// pusher must already be open/initialized.
func New(addr string, tlsConfig *tls.Config, st *store.Store, streams *streambuf.Pool, pusher *push.Notifier, opts Options) *Server {
	return &Server{
		tlsConfig: tlsConfig,
		store:     st,
		streams:   streams,
		pusher:    pusher,
		opts:      opts,
		addr:      addr,
		sessions:  make(map[uint32][]*session.Session),
		done:      make(chan struct{}),
	}
}

// Store implements session.Host.
func (srv *Server) Store() *store.Store { return srv.store }

// Streams implements session.Host.
func (srv *Server) Streams() *streambuf.Pool { return srv.streams }

// Push implements session.Host.
func (srv *Server) Push() *push.Notifier { return srv.pusher }

// DisconnectOnHeartbeatTimeout implements session.Host.
func (srv *Server) DisconnectOnHeartbeatTimeout() bool { return srv.opts.DisconnectOnHeartbeatTimeout }

// SessionsFor implements session.Host.
func (srv *Server) SessionsFor(accountID uint32) []*session.Session {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]*session.Session, len(srv.sessions[accountID]))
	copy(out, srv.sessions[accountID])
	return out
}

// Rekey implements session.Host: moves s from its current registry key to
// accountID, used on successful login.
func (srv *Server) Rekey(s *session.Session, accountID uint32) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	old := s.AccountID()
	srv.sessions[old] = removeSession(srv.sessions[old], s)
	if len(srv.sessions[old]) == 0 {
		delete(srv.sessions, old)
	}
	srv.sessions[accountID] = append(srv.sessions[accountID], s)
}

// Unregister implements session.Host: removes s from the registry entirely.
func (srv *Server) Unregister(s *session.Session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	id := s.AccountID()
	srv.sessions[id] = removeSession(srv.sessions[id], s)
	if len(srv.sessions[id]) == 0 {
		delete(srv.sessions, id)
	}
}

func removeSession(list []*session.Session, target *session.Session) []*session.Session {
	out := list[:0]
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// getSessionCount returns the total number of registered sessions and the
// number of distinct account ids with at least one, the accessor the admin
// surface and the interactive status command read through.
func (srv *Server) getSessionCount() (sessions int, accounts int) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, list := range srv.sessions {
		sessions += len(list)
		if len(list) > 0 {
			accounts++
		}
	}
	return sessions, accounts
}

// SessionCount exposes getSessionCount for the admin surface.
func (srv *Server) SessionCount() (sessions int, accounts int) { return srv.getSessionCount() }

// StreamCount exposes the stream buffer pool's live entry count for the
// admin surface.
func (srv *Server) StreamCount() int { return srv.streams.Count() }

// Ready reports whether the accept loop has completed startup.
func (srv *Server) Ready() bool { return srv.ready.Load() }

// Done returns a channel closed once Run has fully shut down.
func (srv *Server) Done() <-chan struct{} { return srv.done }

// RegisterTransfer hands sender to s, whose send loop drains it, and adds it
// to the active stream-sender list the ticker prunes once it completes or is
// cancelled; used when the relay bridges a completed upload's buffer to a
// recipient session's outbound stream.
func (srv *Server) RegisterTransfer(s *session.Session, streamID uint32, sender *streambuf.Sender) {
	s.RegisterSender(streamID, sender)
	srv.transfersMu.Lock()
	srv.transfers = append(srv.transfers, &trackedTransfer{session: s, streamID: streamID, sender: sender})
	srv.transfersMu.Unlock()
}

// Run opens the TLS listener and accepts connections until ctx is cancelled.
// It blocks until the accept loop and maintenance ticker both exit.
func (srv *Server) Run(ctx context.Context) error {
	ln, err := tls.Listen("tcp", srv.addr, srv.tlsConfig)
	if err != nil {
		return fmt.Errorf("listen %s: %w", srv.addr, err)
	}
	srv.mu.Lock()
	srv.listener = ln
	srv.paused = false
	srv.mu.Unlock()
	srv.ready.Store(true)
	slog.Info("relay listening", "addr", srv.addr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		srv.acceptLoop(ctx, ln)
	}()
	go func() {
		defer wg.Done()
		srv.maintenanceLoop(ctx)
	}()

	<-ctx.Done()
	srv.mu.Lock()
	if srv.listener != nil {
		_ = srv.listener.Close()
	}
	srv.mu.Unlock()
	wg.Wait()
	close(srv.done)
	return nil
}

func (srv *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			srv.mu.Lock()
			paused := srv.paused
			srv.mu.Unlock()
			if paused {
				return
			}
			slog.Error("accept failed", "err", err)
			continue
		}
		srv.onAccepted(conn)
	}
}

func (srv *Server) onAccepted(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s := session.New(srv, conn, remote)
	srv.mu.Lock()
	srv.sessions[s.AccountID()] = append(srv.sessions[s.AccountID()], s)
	srv.mu.Unlock()
	slog.Info("session accepted", "remote", remote)
	go s.Run()
}

func (srv *Server) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.tick()
		}
	}
}

func (srv *Server) tick() {
	stale := srv.streams.ReapIdle(time.Now())
	if len(stale) > 0 {
		slog.Debug("reaped idle stream buffers", "count", len(stale))
	}

	srv.transfersMu.Lock()
	kept := srv.transfers[:0]
	for _, t := range srv.transfers {
		switch t.sender.State() {
		case streambuf.SenderCompleted, streambuf.SenderCancelled:
			continue
		default:
			kept = append(kept, t)
		}
	}
	srv.transfers = kept
	srv.transfersMu.Unlock()
}

// Pause closes the accept socket without tearing down live sessions.
// Pausing an already-paused server is a no-op returning false.
func (srv *Server) Pause() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.paused || srv.listener == nil {
		return false
	}
	_ = srv.listener.Close()
	srv.paused = true
	return true
}

// Resume reopens the accept socket on the same address. Resuming an
// already-running server is a no-op returning false.
func (srv *Server) Resume(ctx context.Context) bool {
	srv.mu.Lock()
	if !srv.paused {
		srv.mu.Unlock()
		return false
	}
	srv.mu.Unlock()

	ln, err := tls.Listen("tcp", srv.addr, srv.tlsConfig)
	if err != nil {
		slog.Error("resume listen failed", "err", err)
		return false
	}

	srv.mu.Lock()
	srv.listener = ln
	srv.paused = false
	srv.mu.Unlock()

	go srv.acceptLoop(ctx, ln)
	return true
}

// RemoveSessions closes every session registered under accountID
// without-shutdown and clears its registry entry.
func (srv *Server) RemoveSessions(accountID uint32) {
	srv.mu.Lock()
	list := srv.sessions[accountID]
	delete(srv.sessions, accountID)
	srv.mu.Unlock()
	for _, s := range list {
		s.Close()
	}
}

// RemoveAllSessions closes every registered session and clears the entire
// registry, used by the interactive 'r' command.
func (srv *Server) RemoveAllSessions() int {
	srv.mu.Lock()
	all := srv.sessions
	srv.sessions = make(map[uint32][]*session.Session)
	srv.mu.Unlock()

	count := 0
	for _, list := range all {
		for _, s := range list {
			s.Close()
			count++
		}
	}
	return count
}
