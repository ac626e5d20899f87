package coordination

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/internal/wire"
	"github.com/kettlecord/shardctl/structs/protocol"
)

// peerTimeout is the total per-call timeout for peer HTTP calls.
const peerTimeout = 10 * time.Second

// Client is a typed HTTP caller used by Coordinator and Worker to talk to
// peers. It carries no rate limiter of its own, since cluster traffic
// between nodes is internal and unrelated to the public Discord REST
// surface the rate limiter governs.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// NewClient constructs a Client.
func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: peerTimeout},
		logger: logger.With().Str("component", "coordination_client").Logger(),
	}
}

func (c *Client) call(ctx context.Context, method, url string, reqBody, out interface{}) error {
	var reader io.Reader

	if reqBody != nil {
		payload, err := wire.JSON.Marshal(reqBody)
		if err != nil {
			return xerrors.Errorf("coordination client marshal: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, peerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return xerrors.Errorf("coordination client build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return xerrors.Errorf("coordination client do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Errorf("coordination client read body: %w", err)
	}

	if resp.StatusCode >= 300 {
		var env protocol.BaseResponse
		if jsonErr := wire.JSON.Unmarshal(body, &env); jsonErr == nil && env.Error != "" {
			return xerrors.Errorf("coordination client %s %s: %s", method, url, env.Error)
		}

		return xerrors.Errorf("coordination client %s %s: status %d", method, url, resp.StatusCode)
	}

	if out == nil || len(body) == 0 {
		return nil
	}

	var env protocol.BaseResponse
	env.Data = out

	if err := wire.JSON.Unmarshal(body, &env); err != nil {
		return xerrors.Errorf("coordination client unmarshal: %w", err)
	}

	return nil
}

// Register calls POST /register on coordinatorURL.
func (c *Client) Register(ctx context.Context, coordinatorURL string, req protocol.WorkerRegistration) (protocol.WorkerRegistrationResponse, error) {
	var out protocol.WorkerRegistrationResponse
	err := c.call(ctx, http.MethodPost, coordinatorURL+"/register", req, &out)

	return out, err
}

// Health calls GET /health on peerURL.
func (c *Client) Health(ctx context.Context, peerURL string) (protocol.HealthResponse, error) {
	var out protocol.HealthResponse
	err := c.call(ctx, http.MethodGet, peerURL+"/health", nil, &out)

	return out, err
}

// Metrics calls POST /metrics on coordinatorURL.
func (c *Client) Metrics(ctx context.Context, coordinatorURL string, req protocol.WorkerMetrics) error {
	return c.call(ctx, http.MethodPost, coordinatorURL+"/metrics", req, nil)
}

// Cluster calls GET /cluster on coordinatorURL.
func (c *Client) Cluster(ctx context.Context, coordinatorURL string) (protocol.ClusterState, error) {
	var out protocol.ClusterState
	err := c.call(ctx, http.MethodGet, coordinatorURL+"/cluster", nil, &out)

	return out, err
}

// Assignment calls POST /assignment on workerURL.
func (c *Client) Assignment(ctx context.Context, workerURL string, req protocol.ShardAssignment) error {
	return c.call(ctx, http.MethodPost, workerURL+"/assignment", req, nil)
}

// Migrate calls POST /migrate on workerURL.
func (c *Client) Migrate(ctx context.Context, workerURL string, req protocol.ShardMigrationRequest) error {
	return c.call(ctx, http.MethodPost, workerURL+"/migrate", req, nil)
}

// Succession calls POST /succession on peerURL.
func (c *Client) Succession(ctx context.Context, peerURL string, req protocol.SuccessionUpdate) error {
	return c.call(ctx, http.MethodPost, peerURL+"/succession", req, nil)
}

// ResumeRequest calls POST /coordinator/resume on tempCoordinatorURL.
func (c *Client) ResumeRequest(ctx context.Context, tempCoordinatorURL string, req protocol.CoordinatorResumptionRequest) (protocol.CoordinatorHandoffData, error) {
	var out protocol.CoordinatorHandoffData
	err := c.call(ctx, http.MethodPost, tempCoordinatorURL+"/coordinator/resume", req, &out)

	return out, err
}

// Resumed calls POST /coordinator/resumed on workerURL.
func (c *Client) Resumed(ctx context.Context, workerURL string, req protocol.CoordinatorResumedAnnouncement) error {
	return c.call(ctx, http.MethodPost, workerURL+"/coordinator/resumed", req, nil)
}

// BroadcastSuccession sends req to every peer URL, logging and skipping
// unreachable peers rather than failing the triggering operation. Delivery
// is sequential per target and best-effort.
func (c *Client) BroadcastSuccession(ctx context.Context, peerURLs []string, req protocol.SuccessionUpdate) {
	for _, url := range peerURLs {
		if err := c.Succession(ctx, url, req); err != nil {
			c.logger.Warn().Err(err).Str("peer", url).Msg("failed to broadcast succession, skipping")
		}
	}
}
