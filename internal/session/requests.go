package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zway/server/internal/store"
	"zway/server/internal/streambuf"
	"zway/server/internal/wire"
)

const requestCtxTimeout = 10 * time.Second

// handleIncomingRequest decodes body as a request envelope and dispatches it
// by requestType, matching the authentication gate (pre-auth vs. auth
// required) each kind documents.
func (s *Session) handleIncomingRequest(head wire.Head, body []byte) {
	env, err := wire.DecodeRequest(body)
	if err != nil {
		slog.Warn("malformed request body", "err", err)
		return
	}

	preAuth := env.RequestType == wire.RequestCreateAccount || env.RequestType == wire.RequestLogin
	if !preAuth && s.Status() != StatusLoggedIn {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "unauthorized", nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestCtxTimeout)
	defer cancel()

	switch env.RequestType {
	case wire.RequestCreateAccount:
		s.doCreateAccount(ctx, env)
	case wire.RequestLogin:
		s.doLogin(ctx, env)
	case wire.RequestLogout:
		s.doLogout(ctx, env)
	case wire.RequestConfig:
		s.doConfig(ctx, env)
	case wire.RequestFindContact:
		s.doFindContact(ctx, env)
	case wire.RequestAddContact:
		s.doAddContact(ctx, env)
	case wire.RequestCreateAddCode:
		s.doCreateAddCode(ctx, env)
	case wire.RequestAcceptContact:
		s.doAcceptContact(ctx, env)
	case wire.RequestRejectContact:
		s.doRejectContact(ctx, env)
	case wire.RequestContactStatus:
		s.doContactStatus(ctx, env)
	case wire.RequestPush:
		s.doPush(ctx, env)
	case wire.RequestDispatch:
		s.doDispatch(ctx, env)
	default:
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "unknown request type", nil)
	}
}

func unmarshalPayload(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w", &wire.MalformedBodyError{Err: err})
	}
	return nil
}

func deriveVerifier(password, salt []byte) []byte {
	h := sha256.New()
	h.Write(password)
	h.Write(salt)
	return h.Sum(nil)
}

// doCreateAccount implements CreateAccount. The id read and the insert are
// separate store calls, so a concurrent creation can take the same id; an
// insert that fails while the name is still free is retried with a fresh id,
// up to a small bound.
func (s *Session) doCreateAccount(ctx context.Context, env wire.RequestEnvelope) {
	var req struct {
		Name     string `json:"name"`
		Password []byte `json:"password"`
	}
	if err := unmarshalPayload(env.Payload, &req); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed request", nil)
		return
	}
	if req.Name == "" {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "missing field: name", nil)
		return
	}
	if len(req.Password) != 32 {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "invalid password", nil)
		return
	}

	if _, err := s.host.Store().GetAccountByName(ctx, req.Name); err == nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "invalid name", nil)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		slog.Error("generate salt", "err", err)
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "internal error", nil)
		return
	}
	verifier := deriveVerifier(req.Password, salt)

	const maxAttempts = 3
	var id uint32
	for attempt := 1; ; attempt++ {
		var err error
		id, err = s.host.Store().NewAccountID(ctx)
		if err != nil {
			s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
			return
		}
		account := store.Account{ID: id, Name: req.Name, Verifier: verifier, Salt: salt, PushEnabled: true}
		if err = s.host.Store().InsertAccount(ctx, account); err == nil {
			break
		}
		if _, lookupErr := s.host.Store().GetAccountByName(ctx, req.Name); lookupErr == nil || attempt == maxAttempts {
			s.enqueueResponse(env.RequestID, wire.StatusFailure, "invalid name", nil)
			return
		}
	}

	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", map[string]any{"accountId": id})
}

// doLogin implements Login, including the registry rekey from this
// session's placeholder id to the authenticated account id.
func (s *Session) doLogin(ctx context.Context, env wire.RequestEnvelope) {
	var req struct {
		Name     string `json:"name"`
		Password []byte `json:"password"`
		Config   *struct {
			NotifyStatus bool   `json:"notifyStatus"`
			PushEnabled  bool   `json:"pushEnabled"`
			FCMToken     string `json:"fcmToken"`
		} `json:"config"`
	}
	if err := unmarshalPayload(env.Payload, &req); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed request", nil)
		return
	}

	account, err := s.host.Store().GetAccountByName(ctx, req.Name)
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "invalid credentials", nil)
		return
	}
	verifier := deriveVerifier(req.Password, account.Salt)
	if subtle.ConstantTimeCompare(verifier, account.Verifier) != 1 {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "invalid credentials", nil)
		return
	}

	s.host.Rekey(s, account.ID)
	s.accountID.Store(account.ID)
	s.status.Store(int32(StatusLoggedIn))

	if req.Config != nil {
		s.mu.Lock()
		s.config = Config{NotifyStatus: req.Config.NotifyStatus, PushEnabled: req.Config.PushEnabled, FCMToken: req.Config.FCMToken}
		s.mu.Unlock()
		if req.Config.FCMToken != "" {
			if err := s.host.Store().SetFCMToken(ctx, account.ID, req.Config.FCMToken); err != nil {
				slog.Error("set fcm token on login", "err", err)
			}
		}
		if err := s.host.Store().SetPushEnabled(ctx, account.ID, req.Config.PushEnabled); err != nil {
			slog.Error("set push enabled on login", "err", err)
		}
	}

	inbox, err := s.host.Store().GetInbox(ctx, account.ID, store.RequestType(wire.RequestPush))
	if err != nil {
		slog.Error("get inbox on login", "err", err)
	}

	s.mu.Lock()
	statuses := make([]map[string]any, 0, len(s.contacts))
	for contactID := range s.contacts {
		statuses = append(statuses, map[string]any{
			"contactId": contactID,
			"status":    s.contactOnlineStatusLocked(contactID),
		})
	}
	s.mu.Unlock()

	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", map[string]any{
		"contactStatus": statuses,
		"inbox":         inbox,
	})

	go s.processUserRequests(account.ID)
}

// contactOnlineStatusLocked reports whether contactID has a live session.
// s.mu must be held by the caller. It reads the registry through
// host.SessionsFor, which briefly takes the registry lock while s.mu is held;
// the registry never takes a session's mu, so this order does not deadlock.
func (s *Session) contactOnlineStatusLocked(contactID uint32) int {
	if len(s.host.SessionsFor(contactID)) > 0 {
		return 1
	}
	return 0
}

func (s *Session) doLogout(ctx context.Context, env wire.RequestEnvelope) {
	if err := s.host.Store().SetFCMToken(ctx, s.AccountID(), ""); err != nil {
		slog.Error("clear fcm token on logout", "err", err)
	}
	s.status.Store(int32(StatusConnected))
	s.broadcastStatus(0)
	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", nil)
}

func (s *Session) doConfig(ctx context.Context, env wire.RequestEnvelope) {
	var req struct {
		NotifyStatus bool   `json:"notifyStatus"`
		PushEnabled  bool   `json:"pushEnabled"`
		FCMToken     string `json:"fcmToken"`
	}
	if err := unmarshalPayload(env.Payload, &req); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed request", nil)
		return
	}

	s.mu.Lock()
	flipped := s.config.NotifyStatus != req.NotifyStatus
	s.config = Config{NotifyStatus: req.NotifyStatus, PushEnabled: req.PushEnabled, FCMToken: req.FCMToken}
	s.mu.Unlock()

	if req.FCMToken != "" {
		if err := s.host.Store().SetFCMToken(ctx, s.AccountID(), req.FCMToken); err != nil {
			slog.Error("set fcm token", "err", err)
		}
	}
	if err := s.host.Store().SetPushEnabled(ctx, s.AccountID(), req.PushEnabled); err != nil {
		slog.Error("set push enabled", "err", err)
	}
	if flipped {
		status := 0
		if req.NotifyStatus {
			status = 1
		}
		s.broadcastStatus(status)
	}
	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", nil)
}

// broadcastStatus notifies every contact with notifyStatus set that this
// account's online status changed.
func (s *Session) broadcastStatus(status int) {
	s.mu.Lock()
	targets := make([]uint32, 0, len(s.contacts))
	for id, cfg := range s.contacts {
		if cfg.NotifyStatus {
			targets = append(targets, id)
		}
	}
	s.mu.Unlock()

	for _, contactID := range targets {
		for _, peer := range s.host.SessionsFor(contactID) {
			peer.enqueueRequest(wire.RequestContactStatus, map[string]any{
				"contactId": s.AccountID(),
				"status":    status,
			}, nil)
		}
	}
}

func (s *Session) doFindContact(ctx context.Context, env wire.RequestEnvelope) {
	var req struct {
		Subject string `json:"subject"`
	}
	if err := unmarshalPayload(env.Payload, &req); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed request", nil)
		return
	}
	if req.Subject == "" || len(req.Subject) > 256 {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "invalid subject", nil)
		return
	}

	accounts, err := s.host.Store().FindContacts(ctx, req.Subject, s.AccountID())
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}
	results := make([]map[string]any, 0, len(accounts))
	for _, a := range accounts {
		results = append(results, map[string]any{"id": a.ID, "name": a.Name})
	}
	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", map[string]any{"contacts": results})
}

func isNonEmptyJSONObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return len(m) > 0
}

func (s *Session) doAddContact(ctx context.Context, env wire.RequestEnvelope) {
	var req struct {
		AddCode   string          `json:"addCode"`
		Name      string          `json:"name"`
		PublicKey json.RawMessage `json:"publicKey"`
	}
	if err := unmarshalPayload(env.Payload, &req); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed request", nil)
		return
	}
	if !isNonEmptyJSONObject(req.PublicKey) {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "invalid public key", nil)
		return
	}

	var contact store.Account
	var err error
	if req.AddCode != "" {
		var pending store.Request
		pending, err = s.host.Store().GetRequestByAddCode(ctx, req.AddCode)
		if err != nil {
			s.enqueueResponse(env.RequestID, wire.StatusFailure, "invalid add code", nil)
			return
		}
		contact, err = s.host.Store().GetAccountByID(ctx, pending.Src)
	} else {
		contact, err = s.host.Store().GetAccountByName(ctx, req.Name)
		if err == nil && !contact.FindByName {
			err = store.ErrNotFound
		}
	}
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "contact not found", nil)
		return
	}
	if contact.ID == s.AccountID() {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "cannot add self", nil)
		return
	}

	pending, err := s.host.Store().RequestPending(ctx, store.RequestType(wire.RequestAddContact), s.AccountID(), contact.ID)
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}
	if pending {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "add contact already pending", nil)
		return
	}

	addCode, err := s.host.Store().GenerateAddCode(ctx)
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}
	publicKey, _ := json.Marshal(req.PublicKey)
	err = s.host.Store().AddRequest(ctx, store.Request{
		ID:        nextRequestID(),
		Src:       s.AccountID(),
		Dst:       contact.ID,
		Type:      store.RequestType(wire.RequestAddContact),
		AddCode:   addCode,
		PublicKey: string(publicKey),
	})
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}

	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", map[string]any{
		"addCode": addCode,
		"name":    contact.Name,
		"phone":   contact.Phone,
	})
	go s.processUserRequests(contact.ID)
}

func (s *Session) doCreateAddCode(ctx context.Context, env wire.RequestEnvelope) {
	addCode, err := s.host.Store().GenerateAddCode(ctx)
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}
	err = s.host.Store().AddRequest(ctx, store.Request{
		ID:      nextRequestID(),
		Src:     s.AccountID(),
		Type:    store.RequestType(wire.RequestAddContact),
		AddCode: addCode,
	})
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}
	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", map[string]any{"addCode": addCode})
}

func (s *Session) doAcceptContact(ctx context.Context, env wire.RequestEnvelope) {
	var req struct {
		AddCode   string          `json:"addCode"`
		PublicKey json.RawMessage `json:"publicKey"`
	}
	if err := unmarshalPayload(env.Payload, &req); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed request", nil)
		return
	}
	if !isNonEmptyJSONObject(req.PublicKey) {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "invalid public key", nil)
		return
	}

	pending, err := s.host.Store().GetRequestByAddCode(ctx, req.AddCode)
	if err != nil || pending.Dst != s.AccountID() {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "request not found", nil)
		return
	}

	self, err := s.host.Store().GetAccountByID(ctx, s.AccountID())
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}
	publicKey, _ := json.Marshal(req.PublicKey)

	if err := s.host.Store().DeleteRequestByAddCode(ctx, req.AddCode); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}
	err = s.host.Store().AddRequest(ctx, store.Request{
		ID:        nextRequestID(),
		Src:       s.AccountID(),
		Dst:       pending.Src,
		Type:      store.RequestType(wire.RequestAcceptContact),
		Name:      self.Name,
		Phone:     self.Phone,
		PublicKey: string(publicKey),
	})
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}

	s.mu.Lock()
	s.contacts[pending.Src] = &ContactConfig{ContactID: pending.Src, NotifyStatus: true}
	s.mu.Unlock()

	for _, peer := range s.host.SessionsFor(pending.Src) {
		peer.enqueueRequest(wire.RequestContactStatus, map[string]any{
			"contactId": s.AccountID(),
			"status":    1,
		}, nil)
	}

	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", map[string]any{
		"name":      self.Name,
		"phone":     self.Phone,
		"publicKey": req.PublicKey,
	})
	go s.processUserRequests(pending.Src)
}

func (s *Session) doRejectContact(ctx context.Context, env wire.RequestEnvelope) {
	var req struct {
		AddCode string `json:"addCode"`
	}
	if err := unmarshalPayload(env.Payload, &req); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed request", nil)
		return
	}

	pending, err := s.host.Store().GetRequestByAddCode(ctx, req.AddCode)
	if err != nil || pending.Dst != s.AccountID() {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "request not found", nil)
		return
	}
	if err := s.host.Store().DeleteRequestByAddCode(ctx, req.AddCode); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}
	err = s.host.Store().AddRequest(ctx, store.Request{
		ID:   nextRequestID(),
		Src:  s.AccountID(),
		Dst:  pending.Src,
		Type: store.RequestType(wire.RequestRejectContact),
	})
	if err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}

	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", nil)
	go s.processUserRequests(pending.Src)
}

func (s *Session) doContactStatus(_ context.Context, env wire.RequestEnvelope) {
	s.mu.Lock()
	statuses := make([]map[string]any, 0, len(s.contacts))
	for id := range s.contacts {
		statuses = append(statuses, map[string]any{
			"contactId": id,
			"status":    s.contactOnlineStatusLocked(id),
		})
	}
	s.mu.Unlock()
	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", map[string]any{"contactStatus": statuses})
}

func (s *Session) doPush(ctx context.Context, env wire.RequestEnvelope) {
	var req struct {
		Resources []uint32          `json:"resources"`
		Keys      map[string]string `json:"keys"`
		Salt      string            `json:"salt"`
		Meta      json.RawMessage   `json:"meta"`
	}
	if err := unmarshalPayload(env.Payload, &req); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed request", nil)
		return
	}

	dsts := make(map[string]uint32, len(req.Keys))
	for dstStr := range req.Keys {
		var dst uint32
		if _, err := fmt.Sscanf(dstStr, "%d", &dst); err != nil {
			s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed dst in keys", nil)
			return
		}
		if dst == s.AccountID() {
			s.enqueueResponse(env.RequestID, wire.StatusFailure, "cannot push to self", nil)
			return
		}
		if _, err := s.host.Store().GetAccountByID(ctx, dst); err != nil {
			s.enqueueResponse(env.RequestID, wire.StatusFailure, "unknown dst in keys", nil)
			return
		}
		dsts[dstStr] = dst
	}

	for dstStr, key := range req.Keys {
		dst := dsts[dstStr]
		data, err := json.Marshal(map[string]any{
			"requestType": wire.RequestPush,
			"src":         s.AccountID(),
			"resources":   req.Resources,
			"salt":        req.Salt,
			"meta":        req.Meta,
			"key":         key,
		})
		if err != nil {
			continue
		}
		err = s.host.Store().AddRequest(ctx, store.Request{
			ID:   nextRequestID(),
			Src:  s.AccountID(),
			Dst:  dst,
			Type: store.RequestType(wire.RequestPush),
			Data: string(data),
		})
		if err != nil {
			slog.Error("persist push request", "dst", dst, "err", err)
			continue
		}
		go s.processUserRequests(dst)
	}

	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", map[string]any{"resources": req.Resources})
}

func (s *Session) doDispatch(ctx context.Context, env wire.RequestEnvelope) {
	var req struct {
		DispatchID uint32 `json:"dispatchId"`
	}
	if err := unmarshalPayload(env.Payload, &req); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "malformed request", nil)
		return
	}
	if err := s.host.Store().DeleteRequest(ctx, req.DispatchID, s.AccountID()); err != nil {
		s.enqueueResponse(env.RequestID, wire.StatusFailure, "store unavailable", nil)
		return
	}
	s.enqueueResponse(env.RequestID, wire.StatusSuccess, "", nil)
}

// processUserRequests delivers userId's pending store requests to its live
// sessions, or falls back to a push notification when it has none.
func (s *Session) processUserRequests(userID uint32) {
	ctx, cancel := context.WithTimeout(context.Background(), requestCtxTimeout)
	defer cancel()

	peers := s.host.SessionsFor(userID)
	if len(peers) == 0 {
		s.pushPendingCounts(ctx, userID)
		return
	}

	requests, err := s.host.Store().GetRequestsForDst(ctx, userID)
	if err != nil {
		slog.Error("get requests for dst", "dst", userID, "err", err)
		return
	}

	for _, req := range requests {
		for _, peer := range peers {
			if peer.pending.has(req.ID) {
				continue
			}
			if req.Type == store.RequestType(wire.RequestPush) {
				s.wireResourceSenders(peer, req)
			}
			reqID := req.ID
			peer.enqueueRequest(wire.RequestType(req.Type), requestFields(req), func(resp wire.ResponseEnvelope) {
				if resp.Status == wire.StatusSuccess {
					if err := s.host.Store().DeleteRequest(context.Background(), reqID, userID); err != nil {
						slog.Error("delete delivered request", "id", reqID, "err", err)
					}
				}
			})
			break
		}
	}
}

// wireResourceSenders bridges every resource id named in a Push request's
// data to peer's outbound stream-sender set, so the attachment bytes a
// prior resource-stream upload left in the buffer pool actually flow to the
// recipient once the Push naming them is delivered. A resource with no
// buffer left in the pool (already reaped, or never uploaded) is skipped;
// the recipient simply never receives that one part of the push.
func (s *Session) wireResourceSenders(peer *Session, req store.Request) {
	var body struct {
		Resources []uint32 `json:"resources"`
	}
	if err := json.Unmarshal([]byte(req.Data), &body); err != nil {
		return
	}
	for _, streamID := range body.Resources {
		if peer.HasSender(streamID) {
			continue
		}
		buffer, ok := s.host.Streams().Get(streamID)
		if !ok {
			continue
		}
		sender := streambuf.NewSender(streamID, buffer, buffer.BytesReadable())
		s.host.RegisterTransfer(peer, streamID, sender)
	}
}

func requestFields(r store.Request) map[string]any {
	fields := map[string]any{"src": r.Src}
	if r.AddCode != "" {
		fields["addCode"] = r.AddCode
	}
	if r.Name != "" {
		fields["name"] = r.Name
	}
	if r.Phone != "" {
		fields["phone"] = r.Phone
	}
	if r.PublicKey != "" {
		fields["publicKey"] = json.RawMessage(r.PublicKey)
	}
	if r.Data != "" {
		fields["data"] = json.RawMessage(r.Data)
	}
	if r.Type == store.RequestType(wire.RequestDispatch) {
		fields["dispatchId"] = r.ID
	}
	return fields
}

func (s *Session) pushPendingCounts(ctx context.Context, userID uint32) {
	account, err := s.host.Store().GetAccountByID(ctx, userID)
	if err != nil || account.FCMToken == "" || !account.PushEnabled {
		return
	}
	numContacts, err := s.host.Store().NumContactRequests(ctx, userID, store.RequestType(wire.RequestAddContact))
	if err == nil && numContacts > 0 {
		s.host.Push().Send(ctx, account.FCMToken, 1000, numContacts)
	}
	numPush, err := s.host.Store().NumPushRequests(ctx, userID, store.RequestType(wire.RequestPush))
	if err == nil && numPush > 0 {
		s.host.Push().Send(ctx, account.FCMToken, 2000, numPush)
	}
}
