// Package push is the sidecar mobile-wake-up client. It is the one outbound
// HTTP dependency the relay core calls when a recipient has no live
// session.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const endpoint = "https://fcm.googleapis.com/fcm/send"

// requestTimeout bounds how long the relay will wait on the push HTTP call,
// the same explicit-timeout-on-the-client idiom this codebase's outbound
// fetch client uses rather than relying on context alone.
const requestTimeout = 5 * time.Second

// Kind is the push payload's numeric "type" field (e.g. 1000 = pending
// contact requests, 2000 = pending push/message requests — see the request
// engine's processUserRequests).
type Kind int

// Notifier sends best-effort mobile wake-ups through FCM's legacy HTTP
// endpoint. The zero value is not usable; construct with New.
type Notifier struct {
	client    *http.Client
	serverKey string
}

// New returns a Notifier authenticating with serverKey (an FCM server key,
// sent in the Authorization header as key=<serverKey>).
func New(serverKey string) *Notifier {
	return &Notifier{
		client:    &http.Client{Timeout: requestTimeout},
		serverKey: serverKey,
	}
}

type fcmPayload struct {
	To       string   `json:"to"`
	Priority string   `json:"priority"`
	Data     fcmData  `json:"data"`
}

type fcmData struct {
	Type        Kind `json:"type"`
	NumElements int  `json:"numElements"`
}

// Send posts a best-effort wake-up to token. It returns true iff the HTTP
// call returned a 2xx status; any transport or non-2xx failure is logged and
// reported as a false return, never an error — the caller (processUserRequests)
// has no fallback action to take on push failure.
func (n *Notifier) Send(ctx context.Context, token string, kind Kind, numElements int) bool {
	if token == "" {
		return false
	}

	body, err := json.Marshal(fcmPayload{
		To:       token,
		Priority: "normal",
		Data:     fcmData{Type: kind, NumElements: numElements},
	})
	if err != nil {
		slog.Error("push: encode payload", "err", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		slog.Error("push: build request", "err", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("key=%s", n.serverKey))

	resp, err := n.client.Do(req)
	if err != nil {
		slog.Warn("push: request failed", "err", err)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		slog.Warn("push: non-2xx response", "status", resp.StatusCode)
	} else {
		slog.Debug("push: delivered", "kind", kind, "num_elements", numElements)
	}
	return ok
}
