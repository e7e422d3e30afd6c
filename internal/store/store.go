// Package store is the connection-pooled gateway to the relay's persisted
// state: accounts and pending delivery requests. It is backed by SQLite
// (pure-Go driver, no CGO) but exposes a document-store-shaped API —
// query/projection operations, not raw SQL — so callers never see the
// schema directly.
//
// Schema changes live in the append-only migrations slice below. Never edit
// or reorder an existing entry; only append a new one.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/cases"
	_ "modernc.org/sqlite"
)

var nameFolder = cases.Fold()

var migrations = []string{
	`CREATE TABLE accounts (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		name_fold TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		find_by_name INTEGER NOT NULL DEFAULT 0,
		find_by_phone INTEGER NOT NULL DEFAULT 0,
		verifier BLOB NOT NULL,
		salt BLOB NOT NULL,
		fcm_token TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX idx_accounts_name_fold ON accounts(name_fold)`,
	`CREATE TABLE requests (
		id INTEGER NOT NULL,
		src INTEGER NOT NULL,
		type INTEGER NOT NULL,
		dst INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		ttl INTEGER NOT NULL DEFAULT 0,
		add_code TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		public_key TEXT NOT NULL DEFAULT '',
		contact_request_id INTEGER NOT NULL DEFAULT 0,
		dispatch_type INTEGER NOT NULL DEFAULT 0,
		data TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (id, src)
	)`,
	`CREATE INDEX idx_requests_dst_type ON requests(dst, type)`,
	`CREATE UNIQUE INDEX idx_requests_add_code ON requests(add_code) WHERE add_code != ''`,
	`PRAGMA journal_mode=WAL`,
	`ALTER TABLE accounts ADD COLUMN push_enabled INTEGER NOT NULL DEFAULT 1`,
}

// ErrStoreUnavailable is returned when the connection pool could not hand
// out a connection within the acquisition deadline.
var ErrStoreUnavailable = errors.New("store unavailable: connection pool exhausted")

// ErrNotFound is returned by single-document lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// acquireTimeout bounds how long a caller waits for a pooled connection.
const acquireTimeout = 10 * time.Second

// DefaultPoolSize is the default number of pooled connections.
const DefaultPoolSize = 10

// Store is the connection-pooled gateway. The pool is a buffered channel of
// tokens layered over one *sql.DB: database/sql already pools physical
// connections, so the token channel exists purely to give callers the
// documented block-10s-then-StoreUnavailable acquisition semantics instead
// of database/sql's own (silent, unbounded) queuing.
type Store struct {
	db     *sql.DB
	tokens chan struct{}
}

// Open opens (or creates) the SQLite-backed store at path and runs pending
// migrations. poolSize <= 0 uses DefaultPoolSize.
func Open(path string, poolSize int) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	s := &Store{db: db, tokens: make(chan struct{}, poolSize)}
	for i := 0; i < poolSize; i++ {
		s.tokens <- struct{}{}
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("store opened", "path", path, "pool_size", poolSize)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`, i+1, time.Now().Unix()); err != nil {
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
	}
	if current < len(migrations) {
		slog.Info("store migrations applied", "from", current, "to", len(migrations))
	}
	return nil
}

// acquire blocks up to acquireTimeout for a pool token, retrying once after
// the first timeout expires before giving up.
func (s *Store) acquire(ctx context.Context) error {
	timer := time.NewTimer(acquireTimeout)
	defer timer.Stop()

	select {
	case <-s.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	// One retry with a fresh deadline, as documented.
	timer.Reset(acquireTimeout)
	select {
	case <-s.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrStoreUnavailable
	}
}

func (s *Store) release() {
	s.tokens <- struct{}{}
}

// withConn runs fn under one acquired pool token, guaranteeing release on
// every return path.
func (s *Store) withConn(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.acquire(ctx); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer s.release()
	if err := fn(ctx); err != nil {
		return err
	}
	return nil
}

// foldName normalizes a display name for uniqueness/lookup comparisons using
// full Unicode case folding, not byte-wise ASCII lowercasing, so names
// differing only by case in any script collide correctly.
func foldName(name string) string {
	return nameFolder.String(strings.TrimSpace(name))
}

// Account mirrors the persisted account document.
type Account struct {
	ID          uint32
	Name        string
	Phone       string
	FindByName  bool
	FindByPhone bool
	Verifier    []byte
	Salt        []byte
	FCMToken    string
	PushEnabled bool
}

// NewAccountID reads the current maximum account id and returns it plus one,
// or 1 when the table is empty. The read takes its own pool slot, so it is not
// atomic with a later InsertAccount: a concurrent creation that took the same
// id makes that insert fail on the primary key.
func (s *Store) NewAccountID(ctx context.Context) (uint32, error) {
	var id uint32
	err := s.withConn(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM accounts`)
		return row.Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("new account id: %w", err)
	}
	return id + 1, nil
}

// GetAccountByID returns the account with the given id, or ErrNotFound.
func (s *Store) GetAccountByID(ctx context.Context, id uint32) (Account, error) {
	return s.getAccount(ctx, `id = ?`, id)
}

// GetAccountByName returns the account whose name matches case-insensitively,
// or ErrNotFound.
func (s *Store) GetAccountByName(ctx context.Context, name string) (Account, error) {
	return s.getAccount(ctx, `name_fold = ?`, foldName(name))
}

func (s *Store) getAccount(ctx context.Context, where string, arg any) (Account, error) {
	var a Account
	err := s.withConn(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT id, name, phone, find_by_name, find_by_phone, verifier, salt, fcm_token, push_enabled FROM accounts WHERE `+where, arg)
		return row.Scan(&a.ID, &a.Name, &a.Phone, &a.FindByName, &a.FindByPhone, &a.Verifier, &a.Salt, &a.FCMToken, &a.PushEnabled)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// InsertAccount persists a new account record. It fails with a wrapped
// sqlite unique-constraint error if name_fold already exists; callers
// translate that into InvalidName.
func (s *Store) InsertAccount(ctx context.Context, a Account) error {
	return s.withConn(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (id, name, name_fold, phone, find_by_name, find_by_phone, verifier, salt, fcm_token, push_enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.Name, foldName(a.Name), a.Phone, a.FindByName, a.FindByPhone, a.Verifier, a.Salt, a.FCMToken, a.PushEnabled)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		slog.Info("account created", "account_id", a.ID, "name", a.Name)
		return nil
	})
}

// SetFCMToken sets or clears (empty string) an account's push token.
func (s *Store) SetFCMToken(ctx context.Context, accountID uint32, token string) error {
	return s.withConn(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE accounts SET fcm_token = ? WHERE id = ?`, token, accountID)
		if err != nil {
			return fmt.Errorf("set fcm token: %w", err)
		}
		return nil
	})
}

// SetPushEnabled toggles whether an account may receive a mobile wake-up
// while offline, independent of whether it still carries an fcmToken.
func (s *Store) SetPushEnabled(ctx context.Context, accountID uint32, enabled bool) error {
	return s.withConn(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE accounts SET push_enabled = ? WHERE id = ?`, enabled, accountID)
		if err != nil {
			return fmt.Errorf("set push enabled: %w", err)
		}
		return nil
	})
}

// FindContacts returns up to 50 accounts whose name contains subject
// (case-insensitive), excluding excludeID, where find_by_name is set.
func (s *Store) FindContacts(ctx context.Context, subject string, excludeID uint32) ([]Account, error) {
	subject = foldName(subject)
	var out []Account
	err := s.withConn(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT id, name, phone, find_by_name, find_by_phone, verifier, salt, fcm_token, push_enabled
			FROM accounts WHERE find_by_name = 1 AND id != ? AND name_fold LIKE '%' || ? || '%' LIMIT 50`, excludeID, subject)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a Account
			if err := rows.Scan(&a.ID, &a.Name, &a.Phone, &a.FindByName, &a.FindByPhone, &a.Verifier, &a.Salt, &a.FCMToken, &a.PushEnabled); err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("find contacts: %w", err)
	}
	return out, nil
}

// ComparePhone reports whether either phone is a non-empty substring of the
// other.
func ComparePhone(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// RequestType mirrors wire.RequestType without importing the wire package,
// keeping store free of protocol concerns; session translates between them.
type RequestType uint32

// Request mirrors the persisted request document.
type Request struct {
	ID               uint32
	Src              uint32
	Type             RequestType
	Dst              uint32
	CreatedAt        time.Time
	TTL              uint32
	AddCode          string
	Name             string
	Phone            string
	PublicKey        string
	ContactRequestID uint32
	DispatchType     uint32
	Data             string
}

// AddRequest persists a new request. A non-empty AddCode already held by a
// stored request fails on the unique add_code index; the insert is not
// retried, here or by the session handlers.
func (s *Store) AddRequest(ctx context.Context, r Request) error {
	return s.withConn(ctx, func(ctx context.Context) error {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx, `INSERT INTO requests
			(id, src, type, dst, created_at, ttl, add_code, name, phone, public_key, contact_request_id, dispatch_type, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Src, r.Type, r.Dst, r.CreatedAt.Unix(), r.TTL, r.AddCode, r.Name, r.Phone, r.PublicKey, r.ContactRequestID, r.DispatchType, r.Data)
		if err != nil {
			return fmt.Errorf("add request: %w", err)
		}
		return nil
	})
}

// DeleteRequest deletes the request matching (id, src) OR (id, dst) for
// whichever side equals selfID, as the Dispatch handler requires.
func (s *Store) DeleteRequest(ctx context.Context, id uint32, selfID uint32) error {
	return s.withConn(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ? AND (src = ? OR dst = ?)`, id, selfID, selfID)
		if err != nil {
			return fmt.Errorf("delete request: %w", err)
		}
		return nil
	})
}

// DeleteRequestByAddCode deletes the AddContact request carrying addCode,
// used once AcceptContact/RejectContact resolves it.
func (s *Store) DeleteRequestByAddCode(ctx context.Context, addCode string) error {
	return s.withConn(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE add_code = ?`, addCode)
		if err != nil {
			return fmt.Errorf("delete request by add code: %w", err)
		}
		return nil
	})
}

// GetRequestByAddCode finds a pending AddContact request by its add code.
func (s *Store) GetRequestByAddCode(ctx context.Context, addCode string) (Request, error) {
	var r Request
	var createdAt int64
	err := s.withConn(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT id, src, type, dst, created_at, ttl, add_code, name, phone, public_key, contact_request_id, dispatch_type, data
			FROM requests WHERE add_code = ?`, addCode)
		return row.Scan(&r.ID, &r.Src, &r.Type, &r.Dst, &createdAt, &r.TTL, &r.AddCode, &r.Name, &r.Phone, &r.PublicKey, &r.ContactRequestID, &r.DispatchType, &r.Data)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("get request by add code: %w", err)
	}
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return r, nil
}

// GetRequestsForDst returns every pending request addressed to dst.
func (s *Store) GetRequestsForDst(ctx context.Context, dst uint32) ([]Request, error) {
	var out []Request
	err := s.withConn(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT id, src, type, dst, created_at, ttl, add_code, name, phone, public_key, contact_request_id, dispatch_type, data
			FROM requests WHERE dst = ? ORDER BY created_at`, dst)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r Request
			var createdAt int64
			if err := rows.Scan(&r.ID, &r.Src, &r.Type, &r.Dst, &createdAt, &r.TTL, &r.AddCode, &r.Name, &r.Phone, &r.PublicKey, &r.ContactRequestID, &r.DispatchType, &r.Data); err != nil {
				return err
			}
			r.CreatedAt = time.Unix(createdAt, 0).UTC()
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get requests for dst: %w", err)
	}
	return out, nil
}

// RequestPending reports whether an AddContact request already exists
// src -> dst.
func (s *Store) RequestPending(ctx context.Context, reqType RequestType, src, dst uint32) (bool, error) {
	var exists bool
	err := s.withConn(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM requests WHERE type = ? AND src = ? AND dst = ?)`, reqType, src, dst)
		return row.Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("request pending: %w", err)
	}
	return exists, nil
}

// InboxEntry groups pending Push request ids by the contact that sent them.
type InboxEntry struct {
	ContactID  uint32   `json:"contactId"`
	RequestIDs []uint32 `json:"requestIds"`
}

// GetInbox enumerates every Push-type request addressed to accountID,
// grouped by src.
func (s *Store) GetInbox(ctx context.Context, accountID uint32, pushType RequestType) ([]InboxEntry, error) {
	grouped := make(map[uint32][]uint32)
	var order []uint32
	err := s.withConn(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT id, src FROM requests WHERE dst = ? AND type = ? ORDER BY created_at`, accountID, pushType)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, src uint32
			if err := rows.Scan(&id, &src); err != nil {
				return err
			}
			if _, seen := grouped[src]; !seen {
				order = append(order, src)
			}
			grouped[src] = append(grouped[src], id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("get inbox: %w", err)
	}
	out := make([]InboxEntry, 0, len(order))
	for _, src := range order {
		out = append(out, InboxEntry{ContactID: src, RequestIDs: grouped[src]})
	}
	return out, nil
}

// NumContactRequests counts pending AddContact requests addressed to
// accountID.
func (s *Store) NumContactRequests(ctx context.Context, accountID uint32, addContactType RequestType) (int, error) {
	return s.countRequests(ctx, accountID, addContactType)
}

// NumPushRequests counts pending Push requests addressed to accountID.
func (s *Store) NumPushRequests(ctx context.Context, accountID uint32, pushType RequestType) (int, error) {
	return s.countRequests(ctx, accountID, pushType)
}

func (s *Store) countRequests(ctx context.Context, accountID uint32, reqType RequestType) (int, error) {
	var n int
	err := s.withConn(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests WHERE dst = ? AND type = ?`, accountID, reqType)
		return row.Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return n, nil
}

// GenerateAddCode produces a fresh, collision-checked add code: 4 random
// bytes, hex-encoded, drawn again up to a small bound while the code is
// already held by a stored request (32 random bits alone are not
// collision-resistant under heavy load).
func (s *Store) GenerateAddCode(ctx context.Context) (string, error) {
	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate add code: %w", err)
		}
		code := strings.ToUpper(hex.EncodeToString(buf))

		var exists bool
		err := s.withConn(ctx, func(ctx context.Context) error {
			row := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM requests WHERE add_code = ?)`, code)
			return row.Scan(&exists)
		})
		if err != nil {
			return "", fmt.Errorf("check add code collision: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: exhausted add-code generation attempts", ErrStoreUnavailable)
}
