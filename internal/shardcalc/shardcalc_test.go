package shardcalc

import "testing"

func TestShardID(t *testing.T) {
	tests := []struct {
		guildID string
		total   int
		want    int
	}{
		// Expected values per the (guildID >> 22) % total formula.
		{"175928847299117063", 4, 0},
		{"41771983423143937", 8, 6},
		{"0", 4, 0},
	}

	for _, tt := range tests {
		got, err := ShardID(tt.guildID, tt.total)
		if err != nil {
			t.Fatalf("ShardID(%q, %d) returned error: %v", tt.guildID, tt.total, err)
		}

		if got != tt.want {
			t.Errorf("ShardID(%q, %d) = %d, want %d", tt.guildID, tt.total, got, tt.want)
		}
	}
}

func TestShardIDRange(t *testing.T) {
	guilds := []string{"175928847299117063", "41771983423143937", "987654321098765432", "1"}

	for _, g := range guilds {
		for total := 1; total <= 16; total++ {
			id, err := ShardID(g, total)
			if err != nil {
				t.Fatalf("ShardID(%q, %d): %v", g, total, err)
			}

			if id < 0 || id >= total {
				t.Errorf("ShardID(%q, %d) = %d, out of range [0,%d)", g, total, id, total)
			}
		}
	}
}

func TestShardIDInvalid(t *testing.T) {
	if _, err := ShardID("not-a-number", 4); err == nil {
		t.Fatal("expected error for non-numeric guild id")
	}

	if _, err := ShardID("123", 0); err == nil {
		t.Fatal("expected error for totalShards < 1")
	}
}
