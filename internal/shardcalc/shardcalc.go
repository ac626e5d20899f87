// Package shardcalc implements the pure shard-routing function from spec
// §4.7: which shard a guild's gateway traffic lands on.
package shardcalc

import (
	"strconv"

	"golang.org/x/xerrors"
)

// ErrInvalidID is returned when guildID cannot be parsed as a decimal
// unsigned 64-bit integer.
var ErrInvalidID = xerrors.New("shardcalc: invalid snowflake id")

// ShardID computes (guildID >> 22) % totalShards, Discord's standard shard
// routing formula. totalShards must be >= 1.
func ShardID(guildID string, totalShards int) (int, error) {
	if totalShards < 1 {
		return 0, xerrors.New("shardcalc: totalShards must be >= 1")
	}

	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("shardcalc: %s: %w", guildID, ErrInvalidID)
	}

	return int((id >> 22) % uint64(totalShards)), nil
}
