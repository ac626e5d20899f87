// Package eventbus implements an optional cluster event bus enrichment:
// the coordinator publishes join, leave, migration, and promotion events
// for external observers such as dashboards. Losing this channel changes
// nothing about cluster correctness, since the HTTP coordination protocol
// remains the sole source of truth.
package eventbus

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack"
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/structs/protocol"
)

// Publisher publishes ClusterEvents to a NATS Streaming channel. A nil
// *Publisher is valid and Publish becomes a no-op, which is what a caller
// gets when no NATS URL is configured.
type Publisher struct {
	logger  zerolog.Logger
	conn    stan.Conn
	nc      *nats.Conn
	channel string
}

// Connect dials natsURL and joins clusterID under clientName. channel is
// the subject every ClusterEvent is published to.
func Connect(natsURL, clusterID, clientName, channel string, logger zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, xerrors.Errorf("eventbus connect nats: %w", err)
	}

	sc, err := stan.Connect(clusterID, clientName, stan.NatsConn(nc))
	if err != nil {
		nc.Close()
		return nil, xerrors.Errorf("eventbus connect stan: %w", err)
	}

	return &Publisher{
		logger:  logger.With().Str("component", "eventbus").Logger(),
		conn:    sc,
		nc:      nc,
		channel: channel,
	}, nil
}

// Close tears down the streaming and underlying NATS connections.
func (p *Publisher) Close() {
	if p == nil {
		return
	}

	if p.conn != nil {
		p.conn.Close()
	}

	if p.nc != nil {
		p.nc.Close()
	}
}

// Publish encodes and publishes a ClusterEvent. Nil receiver and publish
// errors are both swallowed to a log line: this is additive observability,
// never allowed to fail the triggering coordinator operation.
func (p *Publisher) Publish(event protocol.ClusterEvent) {
	if p == nil || p.conn == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	data, err := msgpack.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to encode cluster event")
		return
	}

	if err := p.conn.Publish(p.channel, data); err != nil {
		p.logger.Warn().Err(err).Str("kind", event.Kind).Msg("failed to publish cluster event")
	}
}
