package relay

import (
	"context"
	"crypto/tls"
	"net"
	"path/filepath"
	"testing"
	"time"

	"zway/server/internal/push"
	"zway/server/internal/session"
	"zway/server/internal/store"
	"zway/server/internal/streambuf"
	"zway/server/internal/tlscert"
)

func testTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	cfg, _, err := tlscert.GenerateSelfSigned(24*time.Hour, "localhost")
	if err != nil {
		t.Fatalf("generate tls config: %v", err)
	}
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "db.sqlite"), 4)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	pool, err := streambuf.New(filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return New("127.0.0.1:0", testTLSConfig(t), st, pool, push.New("test-key"), Options{})
}

func TestPauseResumeIdempotent(t *testing.T) {
	srv := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = srv.Run(ctx) }()
	waitUntil(t, func() bool { return srv.Ready() })

	if srv.Pause() == false {
		t.Fatalf("expected first pause to succeed")
	}
	if srv.Pause() {
		t.Fatalf("expected pausing an already-paused server to return false")
	}
	if !srv.Resume(ctx) {
		t.Fatalf("expected resume to succeed")
	}
	if srv.Resume(ctx) {
		t.Fatalf("expected resuming an already-running server to return false")
	}
}

func TestSessionCountStartsZero(t *testing.T) {
	srv := newTestServer(t)
	sessions, accounts := srv.SessionCount()
	if sessions != 0 || accounts != 0 {
		t.Fatalf("expected zero sessions/accounts, got %d/%d", sessions, accounts)
	}
}

func TestTickDropsCompletedTransfers(t *testing.T) {
	srv := newTestServer(t)

	buf, err := srv.streams.Add(7, streambuf.StreamResource, 1)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := buf.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sender := streambuf.NewSender(7, buf, 1)
	if _, _, ok := sender.Next(); !ok {
		t.Fatalf("expected sender to emit its only chunk")
	}
	if sender.State() != streambuf.SenderCompleted {
		t.Fatalf("expected sender completed after draining its declared size")
	}

	conn, peerConn := net.Pipe()
	defer conn.Close()
	defer peerConn.Close()
	sess := session.New(srv, conn, "test-peer")

	srv.RegisterTransfer(sess, 7, sender)
	if len(srv.transfers) != 1 {
		t.Fatalf("expected transfer tracked, got %d", len(srv.transfers))
	}

	srv.tick()
	if len(srv.transfers) != 0 {
		t.Fatalf("expected completed transfer dropped by tick, got %d", len(srv.transfers))
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
