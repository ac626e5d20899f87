package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// healthCheckInterval is the HealthMonitor's scan cadence.
const healthCheckInterval = 5 * time.Second

// HealthMonitor periodically scans a PeerRegistry for stale nodes and
// invokes onDead for each one found. It detects passively, off the
// heartbeat timestamps workers push, rather than polling peers itself.
type HealthMonitor struct {
	logger   zerolog.Logger
	registry *PeerRegistry
	onDead   func(processID string)

	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthMonitor constructs a HealthMonitor bound to registry. onDead is
// invoked once per scan for every node whose heartbeat has gone stale; the
// caller is responsible for removing it from the registry and succession
// and reassigning its shards, since the monitor itself only detects.
func NewHealthMonitor(registry *PeerRegistry, onDead func(processID string), logger zerolog.Logger) *HealthMonitor {
	return &HealthMonitor{
		logger:   logger.With().Str("component", "health_monitor").Logger(),
		registry: registry,
		onDead:   onDead,
		interval: healthCheckInterval,
	}
}

// Start begins the scan loop in a background goroutine. Cancel ctx or call
// Stop to end it.
func (h *HealthMonitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	h.wg.Add(1)

	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				h.scan()
			}
		}
	}()
}

// Stop cancels the scan loop and waits for it to exit.
func (h *HealthMonitor) Stop() {
	if h.cancel != nil {
		h.cancel()
	}

	h.wg.Wait()
}

func (h *HealthMonitor) scan() {
	for _, id := range h.registry.StaleNodes() {
		h.logger.Warn().Str("process_id", id).Msg("worker heartbeat stale, declaring dead")

		if h.onDead != nil {
			h.onDead(id)
		}
	}
}
