package gateway

import (
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"
	"nhooyr.io/websocket"
)

const (
	reconnectBaseDelay = 1000 * time.Millisecond
	reconnectMaxDelay  = 30000 * time.Millisecond
	reconnectMaxJitter = 500 * time.Millisecond
	reconnectMaxShift  = 8
)

// reconnectDelay computes the exponential back-off for a reconnect attempt:
// min(30000, 1000*2^min(8,attempt)) + rand(0,500) milliseconds.
func (s *Session) reconnectDelay(attempt int) time.Duration {
	shift := attempt
	if shift > reconnectMaxShift {
		shift = reconnectMaxShift
	}

	delay := reconnectBaseDelay * time.Duration(uint64(1)<<uint(shift))
	if delay > reconnectMaxDelay {
		delay = reconnectMaxDelay
	}

	jitter := time.Duration(s.randFunc(int(reconnectMaxJitter)))

	return delay + jitter
}

// Reconnect tears down the current connection, waits out the exponential
// backoff, and reconnects, preserving session_id/seq so the new connection
// attempts a Resume.
func (s *Session) Reconnect() error {
	s.setState(StateReconnecting)
	s.closeConn(websocket.StatusNormalClosure)

	attempt := int(atomic.AddInt32(&s.reconnectAtt, 1))
	delay := s.reconnectDelay(attempt - 1)

	s.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting to gateway")

	time.Sleep(delay)

	parent := s.parentCtx
	if parent == nil {
		return xerrors.New("gateway reconnect: no parent context available")
	}

	if err := s.Connect(parent); err != nil {
		return xerrors.Errorf("gateway reconnect: %w", err)
	}

	go func() {
		if err := s.Listen(); err != nil {
			s.logger.Warn().Err(err).Msg("listen terminated after reconnect")
		}
	}()

	return nil
}
