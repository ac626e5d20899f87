package gateway

import (
	"sync/atomic"
	"time"

	"github.com/kettlecord/shardctl/structs/discord"
)

// startHeartbeat launches the periodic heartbeat goroutine, driven off
// hello.heartbeat_interval. It runs independently of Listen's receive loop.
func (s *Session) startHeartbeat() {
	s.heartbeatStop = make(chan struct{})
	s.heartbeatDone = make(chan struct{})

	go s.heartbeatLoop()
}

func (s *Session) stopHeartbeat() {
	if s.heartbeatStop == nil {
		return
	}

	select {
	case <-s.heartbeatStop:
		// already closed
	default:
		close(s.heartbeatStop)
	}

	if s.heartbeatDone != nil {
		<-s.heartbeatDone
	}
}

func (s *Session) heartbeatLoop() {
	defer close(s.heartbeatDone)

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.heartbeatStop:
			return
		case <-ticker.C:
			if s.awaitingAck.IsSet() {
				missed := atomic.AddInt32(&s.missedAcks, 1)

				if missed >= maxMissedHeartbeatAcks {
					s.logger.Warn().Int32("missed", missed).Msg("missed too many heartbeat acks, reconnecting")

					go func() {
						_ = s.Reconnect()
					}()

					return
				}
			}

			if err := s.sendHeartbeat(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to send heartbeat")
			}
		}
	}
}

func (s *Session) sendHeartbeat() error {
	s.awaitingAck.Set()

	seq := s.Sequence()

	var data interface{}
	if seq > 0 {
		data = seq
	}

	return s.writeJSON(discord.GatewayOpHeartbeat, data)
}

func (s *Session) receiveHeartbeatACK() {
	s.awaitingAck.UnSet()
	atomic.StoreInt32(&s.missedAcks, 0)
}
