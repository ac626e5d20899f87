package gateway

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSession() *Session {
	s := NewSession(Identity{Token: "tok"}, nil, nil, zerolog.Nop())
	s.randFunc = func(n int) int { return 0 }

	return s
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected:    "disconnected",
		StateConnecting:      "connecting",
		StateAwaitingIdentify: "awaiting_identify",
		StateAuthenticating:  "authenticating",
		StateReady:           "ready",
		StateReconnecting:    "reconnecting",
	}

	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

// TestReconnectDelay covers the reconnect backoff formula:
// min(30000, 1000*2^min(8,attempt)) + jitter, with jitter pinned to 0 here.
func TestReconnectDelay(t *testing.T) {
	s := newTestSession()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
		{8, 30000 * time.Millisecond}, // min(30000, 1000*256) caps at 30000
		{20, 30000 * time.Millisecond},
	}

	for _, c := range cases {
		got := s.reconnectDelay(c.attempt)
		if got != c.want {
			t.Errorf("reconnectDelay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestReconnectDelayJitterBounded(t *testing.T) {
	s := NewSession(Identity{Token: "tok"}, nil, nil, zerolog.Nop())
	s.randFunc = func(n int) int { return n - 1 }

	got := s.reconnectDelay(0)
	want := 1000*time.Millisecond + reconnectMaxJitter - time.Nanosecond

	if got != want {
		t.Errorf("reconnectDelay with max jitter = %v, want %v", got, want)
	}
}

func TestSequenceAndSessionIDAccessors(t *testing.T) {
	s := newTestSession()

	if s.Sequence() != 0 {
		t.Errorf("fresh session sequence = %d, want 0", s.Sequence())
	}

	if s.SessionID() != "" {
		t.Errorf("fresh session id = %q, want empty", s.SessionID())
	}

	if s.State() != StateDisconnected {
		t.Errorf("fresh session state = %v, want Disconnected", s.State())
	}
}
