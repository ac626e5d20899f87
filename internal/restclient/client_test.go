package restclient

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/kettlecord/shardctl/internal/ratelimit"
)

func TestBackoffSequence(t *testing.T) {
	want := []int{1, 2, 4, 8, 16}

	for i, w := range want {
		got := backoff(i + 1)
		if int(got.Seconds()) != w {
			t.Errorf("backoff(%d) = %v, want %ds", i+1, got, w)
		}
	}
}

func TestHeadersFrom(t *testing.T) {
	c := New("tok", ratelimit.New(zerolog.Nop()), zerolog.Nop())
	defer c.limiter.Close()

	if c.token != "tok" {
		t.Errorf("token = %q, want tok", c.token)
	}
}
