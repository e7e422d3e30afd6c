package session

import (
	"zway/server/internal/push"
	"zway/server/internal/store"
	"zway/server/internal/streambuf"
)

// Host is the server-side surface a Session needs: the shared store, stream
// pool, push notifier, and session registry operations. Implemented by
// the relay package's Server; defined here so this package never imports
// the server package that constructs sessions.
type Host interface {
	Store() *store.Store
	Streams() *streambuf.Pool
	Push() *push.Notifier

	// SessionsFor returns every live session currently registered under
	// accountID.
	SessionsFor(accountID uint32) []*Session

	// Rekey moves s from its current registry key to accountID (used on
	// login, which promotes a session from its placeholder id).
	Rekey(s *Session, accountID uint32)

	// Unregister removes s from the registry entirely (used on close).
	Unregister(s *Session)

	// RegisterTransfer hands sender to s's outbound stream-sender set and
	// adds it to the server's active-transfer list the maintenance ticker
	// drains, used to bridge a completed resource upload to a recipient
	// session once a Push naming it is delivered.
	RegisterTransfer(s *Session, streamID uint32, sender *streambuf.Sender)

	// DisconnectOnHeartbeatTimeout reports the configured heartbeat-expiry
	// behavior: log-only by default, closeable via config.
	DisconnectOnHeartbeatTimeout() bool
}
