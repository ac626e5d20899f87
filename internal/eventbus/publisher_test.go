package eventbus

import (
	"testing"

	"github.com/kettlecord/shardctl/structs/protocol"
)

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher

	p.Publish(protocol.ClusterEvent{Kind: "worker_joined"})
	p.Close()
}

func TestPublisherWithoutConnIsSafe(t *testing.T) {
	p := &Publisher{}

	p.Publish(protocol.ClusterEvent{Kind: "worker_lost"})
	p.Close()
}
