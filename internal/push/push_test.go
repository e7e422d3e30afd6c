package push

import "testing"

func TestSendEmptyTokenIsNoop(t *testing.T) {
	n := New("test-key")
	if n.Send(nil, "", Kind(1000), 1) {
		t.Fatalf("Send with empty token should return false without dialing out")
	}
}
