// Package gateway implements the per-shard gateway session state machine:
// handshake, heartbeat with ack tracking, resume/identify, exponential
// reconnect, and dispatch decoding. A Session is a single WebSocket
// connection owned by a ShardRunner.
package gateway

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheRockettek/czlib"
	"github.com/rs/zerolog"
	"github.com/tevino/abool"
	"golang.org/x/xerrors"
	"nhooyr.io/websocket"

	"github.com/kettlecord/shardctl/internal/wire"
	"github.com/kettlecord/shardctl/structs/discord"
)

// State is a Session's position in the gateway handshake/reconnect state
// machine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingIdentify
	StateAuthenticating
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingIdentify:
		return "awaiting_identify"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	websocketReadLimit = 512 << 20
	gatewayURL         = "wss://gateway.discord.gg/?v=10&encoding=json"

	maxMissedHeartbeatAcks = 2
	invalidSessionMinDelay = 1000 * time.Millisecond
	invalidSessionMaxDelay = 5000 * time.Millisecond

	messageChannelBuffer = 64
)

// Dispatcher is the single registered callback a Session hands decoded
// dispatch events to, in wire order.
type Dispatcher func(name string, seq int64, payload []byte)

// ErrorCallback is invoked when a Session terminates without reconnecting:
// on a fatal close code, or on any transport error while auto-reconnect is
// disabled.
type ErrorCallback func(err error)

// Identity carries the credentials and sharding parameters a Session
// identifies with. Shard is nil for single-shard bots, in which case the
// Identify payload omits the field entirely.
type Identity struct {
	Token          string
	Intents        int
	LargeThreshold int
	Compress       bool
	Properties     discord.IdentifyProperties
	Shard          *[2]int
}

// Session is a single WebSocket connection to the Discord gateway,
// maintaining resumable state across reconnects.
type Session struct {
	logger zerolog.Logger

	identity Identity

	Dispatcher    Dispatcher
	OnError       ErrorCallback
	AutoReconnect bool

	stateMu sync.RWMutex
	state   State

	connMu sync.Mutex // guards conn
	conn   *websocket.Conn

	writeMu sync.Mutex // serializes writes across the heartbeat timer and SendEvent

	seq       int64 // atomic
	sessionMu sync.RWMutex
	sessionID string

	awaitingAck  *abool.AtomicBool
	missedAcks   int32 // atomic
	reconnectAtt int32 // atomic

	heartbeatInterval time.Duration
	heartbeatStop     chan struct{}
	heartbeatDone     chan struct{}

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc

	messageCh chan discord.ReceivedPayload
	errorCh   chan error

	nowFunc  func() time.Time
	randFunc func(n int) int // returns [0,n)
}

// NewSession constructs a Session. identity.Shard must be set for sharded
// bots and left nil for single-shard bots.
func NewSession(identity Identity, dispatcher Dispatcher, onError ErrorCallback, logger zerolog.Logger) *Session {
	return &Session{
		logger:        logger.With().Str("component", "gateway_session").Logger(),
		identity:      identity,
		Dispatcher:    dispatcher,
		OnError:       onError,
		AutoReconnect: true,
		awaitingAck:   abool.New(),
		nowFunc:       time.Now,
		randFunc:      rand.Intn,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.state
}

func (s *Session) setState(state State) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// Sequence returns the last-recorded Dispatch sequence number.
func (s *Session) Sequence() int64 {
	return atomic.LoadInt64(&s.seq)
}

// SessionID returns the current resumable session id, or "" if none.
func (s *Session) SessionID() string {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()

	return s.sessionID
}

// Connect dials the gateway, completes the Hello/Identify-or-Resume
// handshake, and starts the heartbeat loop. It does not start the receive
// loop; call Listen for that.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)

	s.parentCtx = ctx
	s.ctx, s.cancel = context.WithCancel(ctx)

	conn, _, err := websocket.Dial(s.ctx, gatewayURL, nil)
	if err != nil {
		return xerrors.Errorf("gateway connect dial: %w", err)
	}

	conn.SetReadLimit(websocketReadLimit)

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.messageCh = make(chan discord.ReceivedPayload, messageChannelBuffer)
	s.errorCh = make(chan error, 1)

	go s.feed()

	msg, err := s.readOne()
	if err != nil {
		return xerrors.Errorf("gateway connect read hello: %w", err)
	}

	if msg.Op != discord.GatewayOpHello {
		return xerrors.Errorf("gateway connect: expected Hello, got op %d", msg.Op)
	}

	var hello discord.Hello
	if err := wire.JSON.Unmarshal(msg.Data, &hello); err != nil {
		return xerrors.Errorf("gateway connect decode hello: %w", err)
	}

	s.heartbeatInterval = hello.HeartbeatInterval * time.Millisecond
	s.startHeartbeat()

	s.setState(StateAwaitingIdentify)

	if s.SessionID() != "" && s.Sequence() > 0 {
		if err := s.Resume(); err != nil {
			return xerrors.Errorf("gateway connect resume: %w", err)
		}
	} else {
		if err := s.Identify(); err != nil {
			return xerrors.Errorf("gateway connect identify: %w", err)
		}
	}

	s.setState(StateAuthenticating)

	return nil
}

// feed reads frames off the websocket and pipes decoded payloads to
// messageCh, decompressing binary frames with czlib.
func (s *Session) feed() {
	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			return
		}

		mt, buf, err := conn.Read(s.ctx)
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}

			select {
			case s.errorCh <- xerrors.Errorf("gateway read: %w", err):
			default:
			}

			return
		}

		if mt == websocket.MessageBinary {
			buf, err = czlib.Decompress(buf)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to decompress binary frame")
				continue
			}
		}

		msg := discord.ReceivedPayload{TraceTime: s.nowFunc()}

		if err := wire.JSON.Unmarshal(buf, &msg); err != nil {
			s.logger.Error().Err(err).Msg("failed to unmarshal gateway frame")
			continue
		}

		select {
		case s.messageCh <- msg:
		case <-s.ctx.Done():
			return
		}
	}
}

// readOne reads a single message, giving priority to any pending transport
// error over a freshly queued message.
func (s *Session) readOne() (discord.ReceivedPayload, error) {
	select {
	case err := <-s.errorCh:
		return discord.ReceivedPayload{}, err
	default:
	}

	select {
	case err := <-s.errorCh:
		return discord.ReceivedPayload{}, err
	case msg := <-s.messageCh:
		return msg, nil
	case <-s.ctx.Done():
		return discord.ReceivedPayload{}, s.ctx.Err()
	}
}

// Listen processes frames until the session closes or an unrecoverable
// error is hit. It is the long-lived blocking receive loop for the
// connection.
func (s *Session) Listen() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		msg, err := s.readOne()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return s.handleTransportError(err)
		}

		s.handleMessage(msg)
	}
}

func (s *Session) handleTransportError(err error) error {
	var closeErr *websocket.CloseError

	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case discord.CloseNotAuthenticated, discord.CloseAuthFailed,
			discord.CloseInvalidShard, discord.CloseShardingRequired,
			discord.CloseInvalidAPIVersion, discord.CloseInvalidIntents,
			discord.CloseDisallowedIntents:
			s.logger.Warn().Int("code", int(closeErr.Code)).Msg("fatal close code, not reconnecting")

			if s.OnError != nil {
				s.OnError(err)
			}

			return err
		}
	}

	s.logger.Warn().Err(err).Msg("transient transport error")

	if !s.AutoReconnect {
		if s.OnError != nil {
			s.OnError(err)
		}

		return err
	}

	return s.Reconnect()
}

// Disconnect tears the session down permanently; auto-reconnect is
// disabled regardless of its prior setting.
func (s *Session) Disconnect(code websocket.StatusCode) {
	s.AutoReconnect = false
	s.closeConn(code)
	s.setState(StateDisconnected)
}

func (s *Session) closeConn(code websocket.StatusCode) {
	s.stopHeartbeat()

	if s.cancel != nil {
		s.cancel()
	}

	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn != nil {
		if err := conn.Close(code, ""); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug().Err(err).Msg("error closing websocket, likely already closed")
		}
	}
}

// writeJSON marshals and writes a frame, serialized by writeMu so the
// heartbeat timer and SendEvent callers never interleave writes on the
// same connection.
func (s *Session) writeJSON(op discord.GatewayOp, data interface{}) error {
	payload, err := wire.JSON.Marshal(discord.SentPayload{Op: op, Data: data})
	if err != nil {
		return xerrors.Errorf("gateway writeJSON marshal: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if conn == nil {
		return xerrors.New("gateway writeJSON: no active connection")
	}

	if err := conn.Write(s.ctx, websocket.MessageText, payload); err != nil {
		return xerrors.Errorf("gateway writeJSON write: %w", err)
	}

	return nil
}
