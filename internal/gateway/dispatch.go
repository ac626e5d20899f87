package gateway

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/savsgio/gotils"

	"github.com/kettlecord/shardctl/internal/wire"
	"github.com/kettlecord/shardctl/structs/discord"
)

// handleMessage routes a single decoded frame to its opcode-specific
// handler.
func (s *Session) handleMessage(msg discord.ReceivedPayload) {
	msg.AddTrace("received", s.nowFunc())

	if s.logger.GetLevel() == zerolog.TraceLevel {
		s.logger.Trace().Str("data", gotils.B2S(msg.Data)).Msg("received frame")
	}

	switch msg.Op {
	case discord.GatewayOpDispatch:
		s.handleDispatch(msg)

	case discord.GatewayOpHeartbeat:
		if err := s.sendHeartbeat(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to send requested heartbeat")
		}

	case discord.GatewayOpHeartbeatACK:
		s.receiveHeartbeatACK()

	case discord.GatewayOpReconnect:
		s.logger.Info().Msg("gateway requested reconnect")

		go func() {
			_ = s.Reconnect()
		}()

	case discord.GatewayOpInvalidSession:
		s.handleInvalidSession(msg)

	default:
		s.logger.Debug().Int("op", int(msg.Op)).Msg("unhandled opcode")
	}
}

func (s *Session) handleDispatch(msg discord.ReceivedPayload) {
	if msg.Sequence > 0 {
		atomic.StoreInt64(&s.seq, msg.Sequence)
	}

	if msg.Type == "READY" {
		var ready discord.ReadyEvent
		if err := wire.JSON.Unmarshal(msg.Data, &ready); err != nil {
			s.logger.Error().Err(err).Msg("failed to unmarshal READY")
		} else {
			s.sessionMu.Lock()
			s.sessionID = ready.SessionID
			s.sessionMu.Unlock()

			s.setState(StateReady)
			atomic.StoreInt32(&s.reconnectAtt, 0)
		}
	}

	if s.Dispatcher != nil {
		s.Dispatcher(msg.Type, msg.Sequence, msg.Data)
	}
}

// handleInvalidSession sleeps a random 1-5s, then Resumes if the payload's
// d flag allows it, otherwise clears session state and Identifies fresh.
func (s *Session) handleInvalidSession(msg discord.ReceivedPayload) {
	delay := invalidSessionMinDelay + time.Duration(s.randFunc(int(invalidSessionMaxDelay-invalidSessionMinDelay)))
	time.Sleep(delay)

	var resumable discord.InvalidSession
	_ = wire.JSON.Unmarshal(msg.Data, &resumable)

	if bool(resumable) && s.SessionID() != "" {
		if err := s.Resume(); err != nil {
			s.logger.Warn().Err(err).Msg("resume after invalid session failed")
		}

		return
	}

	s.sessionMu.Lock()
	s.sessionID = ""
	s.sessionMu.Unlock()

	atomic.StoreInt64(&s.seq, 0)

	if err := s.Identify(); err != nil {
		s.logger.Warn().Err(err).Msg("identify after invalid session failed")
	}
}
