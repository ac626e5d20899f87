// Package restclient implements the outbound Discord REST surface and its
// retry policy, composing internal/ratelimit around a plain
// net/http.Client. Bucket state is delegated to a shared RateLimiter
// rather than owned here, since the limiter is also exercised directly by
// tests independent of any HTTP round trip.
package restclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"github.com/kettlecord/shardctl/internal/ratelimit"
	"github.com/kettlecord/shardctl/internal/wire"
)

const (
	baseURL    = "https://discord.com/api/v10"
	maxRetries = 5
	userAgent  = "DiscordBot (shardctl, 1.0)"
)

// ErrRateLimitExhausted is returned when a call is still answered with 429
// after 5 retries.
var ErrRateLimitExhausted = xerrors.New("restclient: rate limit retries exhausted")

// Client is the outbound REST caller shared by a single bot token.
type Client struct {
	http    *http.Client
	limiter *ratelimit.RateLimiter
	token   string
	logger  zerolog.Logger
}

// New constructs a Client. The caller owns the RateLimiter's lifecycle
// (Close it once, likely shared with other subsystems that inspect bucket
// state for diagnostics).
func New(token string, limiter *ratelimit.RateLimiter, logger zerolog.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          200,
				MaxIdleConnsPerHost:   50,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: time.Second,
				ForceAttemptHTTP2:     true,
			},
		},
		limiter: limiter,
		token:   token,
		logger:  logger.With().Str("component", "restclient").Logger(),
	}
}

// FetchJSON performs method against route, JSON-encoding body (if non-nil)
// and decoding the response into out (if non-nil). route is both the
// rate-limit bucket key input and the path appended to the Discord REST
// base URL.
func (c *Client) FetchJSON(ctx context.Context, method, route string, body, out interface{}) (*http.Response, error) {
	var payload []byte

	if body != nil {
		var err error

		payload, err = wire.JSON.Marshal(body)
		if err != nil {
			return nil, xerrors.Errorf("restclient marshal: %w", err)
		}
	}

	resp, respBody, err := c.do(ctx, method, route, payload)
	if err != nil {
		return resp, err
	}

	if out != nil && len(respBody) > 0 {
		if err := wire.JSON.Unmarshal(respBody, out); err != nil {
			return resp, xerrors.Errorf("restclient unmarshal: %w", err)
		}
	}

	return resp, nil
}

// do implements the retry policy: up to 5 retries on 429 (sleeping
// Retry-After between attempts) and up to 5 retries on 5xx with
// exponential backoff 2^(attempt-1) seconds. All other responses are
// returned unchanged.
func (c *Client) do(ctx context.Context, method, route string, payload []byte) (*http.Response, []byte, error) {
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if _, err := c.limiter.Acquire(ctx, route); err != nil {
			return nil, nil, xerrors.Errorf("restclient acquire: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, baseURL+route, bytes.NewReader(payload))
		if err != nil {
			return nil, nil, xerrors.Errorf("restclient build request: %w", err)
		}

		req.Header.Set("Authorization", "Bot "+c.token)
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		if len(payload) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("route", route).Int("attempt", attempt).Msg("transient transport error")

			if attempt > maxRetries {
				return nil, nil, xerrors.Errorf("restclient transport: %w", err)
			}

			time.Sleep(backoff(attempt))

			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			return resp, nil, xerrors.Errorf("restclient read body: %w", readErr)
		}

		c.limiter.UpdateFromResponse(route, headersFrom(resp.Header))

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := c.limiter.Handle429(route, resp.Header.Get("Retry-After"))

			if attempt > maxRetries {
				return resp, respBody, ErrRateLimitExhausted
			}

			time.Sleep(wait)

			continue

		case resp.StatusCode >= 500 && resp.StatusCode < 600:
			c.logger.Warn().Str("route", route).Int("status", resp.StatusCode).Int("attempt", attempt).Msg("server error, retrying")

			if attempt > maxRetries {
				return resp, respBody, xerrors.Errorf("restclient: %d after %d attempts", resp.StatusCode, attempt)
			}

			time.Sleep(backoff(attempt))

			continue

		default:
			return resp, respBody, nil
		}
	}

	return nil, nil, xerrors.New("restclient: unreachable retry exhaustion")
}

// backoff implements the 5xx policy: 2^(attempt-1) seconds, i.e. 1, 2, 4, 8,
// 16 for attempts 1..5.
func backoff(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

func headersFrom(h http.Header) ratelimit.ResponseHeaders {
	return ratelimit.ResponseHeaders{
		Bucket:    h.Get("X-RateLimit-Bucket"),
		Limit:     h.Get("X-RateLimit-Limit"),
		Remaining: h.Get("X-RateLimit-Remaining"),
		Reset:     h.Get("X-RateLimit-Reset"),
		Global:    h.Get("X-RateLimit-Global"),
	}
}

// GatewayBotRoute is the route used for shard-count auto-discovery.
const GatewayBotRoute = "/gateway/bot"

// ApplicationInfoRoute is the route used for app identity checks.
const ApplicationInfoRoute = "/oauth2/applications/@me"
