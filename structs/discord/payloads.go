package discord

import (
	"time"

	"github.com/TheRockettek/snowflake"
	jsoniter "github.com/json-iterator/go"
)

// ReceivedPayload is a single frame read off the gateway websocket.
type ReceivedPayload struct {
	Op   GatewayOp           `json:"op"`
	Data jsoniter.RawMessage `json:"d"`
	Type string              `json:"t,omitempty"`
	// Sequence is only meaningful on Dispatch frames; Session.feed stores it
	// here regardless so callers never need a type switch to find it.
	Sequence int64 `json:"s,omitempty"`

	// TraceTime and Trace are not part of the wire format. They are stamped
	// locally to measure how long a dispatch spends in each pipeline stage.
	TraceTime time.Time      `json:"-"`
	Trace     map[string]int `json:"-"`
}

// AddTrace records how many milliseconds elapsed since TraceTime under the
// given label, without allocating a new map on every call.
func (p *ReceivedPayload) AddTrace(label string, at time.Time) {
	if p.Trace == nil {
		p.Trace = make(map[string]int)
	}

	p.Trace[label] = int(at.Sub(p.TraceTime).Milliseconds())
}

// SentPayload is a single frame written to the gateway websocket.
type SentPayload struct {
	Op   GatewayOp   `json:"op"`
	Data interface{} `json:"d"`
}

// Hello is the payload of opcode 10, the first frame received after the
// websocket handshake completes.
type Hello struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

// IdentifyProperties describes the client connecting to the gateway.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify is the payload of opcode 2. Shard is only populated when the
// session was instantiated with a (shard_id, total_shards) pair; a
// single-shard bot must omit the field entirely rather than send [0, 1].
type Identify struct {
	Token          string               `json:"token"`
	Properties     *IdentifyProperties  `json:"properties"`
	Compress       bool                 `json:"compress,omitempty"`
	LargeThreshold int                  `json:"large_threshold,omitempty"`
	Shard          *[2]int              `json:"shard,omitempty"`
	Presence       *UpdateStatus        `json:"presence,omitempty"`
	Intents        int                  `json:"intents"`
}

// Resume is the payload of opcode 6.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// InvalidSession is the payload of opcode 9. The boolean indicates whether
// the session may be resumed rather than requiring a fresh Identify.
type InvalidSession bool

// RequestGuildMembers is the payload of opcode 8.
type RequestGuildMembers struct {
	GuildID snowflake.ID `json:"guild_id"`
	Query   string       `json:"query"`
	Limit   int          `json:"limit"`
}

// UpdateStatus is the payload of opcode 3, also embeddable in Identify as an
// initial presence.
type UpdateStatus struct {
	Since  *int64   `json:"since"`
	Game   *Activity `json:"game,omitempty"`
	Status string   `json:"status"`
	AFK    bool     `json:"afk"`
}

// Activity is a minimal presence activity, enough to satisfy UpdateStatus;
// the full activity schema belongs to the user-facing event layer this
// package does not implement.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// GatewayBot is the response body of GET /gateway/bot, used to auto-detect
// totalShards on coordinator boot.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit describes how many more gateway sessions may be started
// before Discord's identify rate limit resets.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// User is the minimal subset of the Discord user object the gateway
// session needs to record from READY; entity caching beyond this is out
// of scope.
type User struct {
	ID       snowflake.ID `json:"id"`
	Username string       `json:"username"`
	Avatar   string       `json:"avatar"`
}

// ReadyEvent is the Dispatch payload of the READY event, the only Dispatch
// payload this package decodes by name since it is required to populate
// GatewaySessionState.session_id.
type ReadyEvent struct {
	SessionID string `json:"session_id"`
	User      User   `json:"user"`
}
