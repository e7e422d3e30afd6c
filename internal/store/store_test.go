package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zway.db")
	s, err := Open(path, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAccountLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.NewAccountID(ctx)
	if err != nil {
		t.Fatalf("NewAccountID: %v", err)
	}
	if id != 1 {
		t.Fatalf("first account id = %d, want 1", id)
	}

	acc := Account{ID: id, Name: "Alice", FindByName: true, Verifier: []byte{1, 2, 3}, Salt: []byte{4, 5, 6}}
	if err := s.InsertAccount(ctx, acc); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}

	got, err := s.GetAccountByName(ctx, "ALICE")
	if err != nil {
		t.Fatalf("GetAccountByName (case-insensitive): %v", err)
	}
	if got.ID != id || got.Name != "Alice" {
		t.Fatalf("got %+v", got)
	}

	next, err := s.NewAccountID(ctx)
	if err != nil {
		t.Fatalf("NewAccountID after insert: %v", err)
	}
	if next != id+1 {
		t.Fatalf("next account id = %d, want %d", next, id+1)
	}

	if err := s.InsertAccount(ctx, Account{ID: next, Name: "alice"}); err == nil {
		t.Fatalf("expected case-insensitive unique violation, got nil")
	}
}

func TestSetPushEnabledPersists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.NewAccountID(ctx)
	if err != nil {
		t.Fatalf("NewAccountID: %v", err)
	}
	if err := s.InsertAccount(ctx, Account{ID: id, Name: "bob", PushEnabled: true}); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}

	got, err := s.GetAccountByID(ctx, id)
	if err != nil {
		t.Fatalf("GetAccountByID: %v", err)
	}
	if !got.PushEnabled {
		t.Fatalf("expected push enabled true after insert")
	}

	if err := s.SetPushEnabled(ctx, id, false); err != nil {
		t.Fatalf("SetPushEnabled: %v", err)
	}
	got, err = s.GetAccountByID(ctx, id)
	if err != nil {
		t.Fatalf("GetAccountByID after update: %v", err)
	}
	if got.PushEnabled {
		t.Fatalf("expected push enabled false after SetPushEnabled(false)")
	}
}

func TestGetAccountNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetAccountByID(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRequestLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := Request{ID: 1, Src: 1, Dst: 2, Type: RequestType(4100), Data: `{"k":"v"}`}
	if err := s.AddRequest(ctx, req); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	pending, err := s.GetRequestsForDst(ctx, 2)
	if err != nil {
		t.Fatalf("GetRequestsForDst: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != 1 {
		t.Fatalf("got %+v", pending)
	}

	n, err := s.NumPushRequests(ctx, 2, RequestType(4100))
	if err != nil {
		t.Fatalf("NumPushRequests: %v", err)
	}
	if n != 1 {
		t.Fatalf("NumPushRequests = %d, want 1", n)
	}

	if err := s.DeleteRequest(ctx, 1, 2); err != nil {
		t.Fatalf("DeleteRequest: %v", err)
	}
	pending, err = s.GetRequestsForDst(ctx, 2)
	if err != nil {
		t.Fatalf("GetRequestsForDst after delete: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected request deleted, got %+v", pending)
	}
}

func TestAddCodeUniqueAndCollisionRetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	code, err := s.GenerateAddCode(ctx)
	if err != nil {
		t.Fatalf("GenerateAddCode: %v", err)
	}
	if len(code) != 8 {
		t.Fatalf("add code length = %d, want 8", len(code))
	}

	if err := s.AddRequest(ctx, Request{ID: 1, Src: 1, Type: RequestType(3100), AddCode: code}); err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	if err := s.AddRequest(ctx, Request{ID: 2, Src: 2, Type: RequestType(3100), AddCode: code}); err == nil {
		t.Fatalf("expected unique add_code violation")
	}

	second, err := s.GenerateAddCode(ctx)
	if err != nil {
		t.Fatalf("GenerateAddCode (second): %v", err)
	}
	if second == code {
		t.Fatalf("GenerateAddCode returned a colliding code")
	}
}

func TestComparePhone(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"555", "555-1234", true},
		{"555-1234", "555", true},
		{"", "555", false},
		{"555", "", false},
		{"111", "222", false},
	}
	for _, tc := range cases {
		if got := ComparePhone(tc.a, tc.b); got != tc.want {
			t.Errorf("ComparePhone(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
