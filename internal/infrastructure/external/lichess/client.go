// Package lichess implements the game export client for the bot account.
// It pages through GET /api/games/user/{account} (NDJSON), honours 429
// Retry-After, and retries every other failure without an attempt cap.
package lichess

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/domain/game"
	"github.com/lqo-hub/lqo-leaderboard/internal/domain/shared"
	"github.com/lqo-hub/lqo-leaderboard/pkg/retry"
	"github.com/lqo-hub/lqo-leaderboard/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the game server client.
type ClientConfig struct {
	// BaseURL is the server root, e.g. https://lichess.org
	BaseURL string

	// Account is the bot whose games are exported
	Account string

	// Token is the personal API token sent as a Bearer credential
	Token string

	// PageSize is the max parameter of one export request
	PageSize int

	// PageDelay is the courtesy pause after every page
	PageDelay time.Duration

	// RetryDelay is the fixed wait after a non-429 failure
	RetryDelay time.Duration

	// ChunkSize partitions cold-start backfills
	ChunkSize time.Duration

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for 429 handling
	RateLimiterConfig RateLimiterConfig

	// Metrics receives per-request observations (optional)
	Metrics Metrics

	// HTTPClient overrides the default client (optional)
	HTTPClient *http.Client

	// Sleep is used for every wait (page delay, retries, 429); injectable for tests
	Sleep retry.SleepFunc

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultClientConfig returns the production defaults.
func DefaultClientConfig(baseURL, account, token string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Account:           account,
		Token:             token,
		PageSize:          300,
		PageDelay:         time.Second,
		RetryDelay:        10 * time.Second,
		ChunkSize:         30 * time.Minute,
		Timeout:           2 * time.Minute,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// Metrics is the subset of the metrics collector used by the client.
type Metrics interface {
	ObserveUpstreamRequest(outcome string, d time.Duration)
	IncUpstreamRateLimited()
	AddGamesFetched(n int)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client fetches the bot's games.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	retrier     *retry.Retrier
	sleep       retry.SleepFunc
}

// NewClient creates a new client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Sleep == nil {
		config.Sleep = retry.Sleep
	}
	if config.PageSize <= 0 {
		config.PageSize = 300
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 30 * time.Minute
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.RateLimiterConfig.Sleep == nil {
		config.RateLimiterConfig.Sleep = config.Sleep
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	logger := config.Logger.With("component", "lichess")
	c := &Client{
		config:      config,
		httpClient:  httpClient,
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		sleep:       config.Sleep,
	}
	c.retrier = retry.UpstreamRetrier(config.RetryDelay,
		retry.WithSleep(config.Sleep),
		retry.WithRetryIf(func(err error) bool { return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) }),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Warn("game export request failed, retrying",
				"attempt", attempt,
				"error", err,
				"retry_in", delay,
			)
		}),
	)
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// FETCH OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Fetch returns every game with createdAt in [since, until] in ascending order.
// until <= 0 leaves the window open (up to now).
// Transient failures are retried until ctx is done; pages already retrieved
// are never dropped.
func (c *Client) Fetch(ctx context.Context, since, until int64) ([]*game.Game, error) {
	var all []*game.Game
	pageSize := c.config.PageSize

	for {
		page, err := c.fetchPage(ctx, since, until)
		if err != nil {
			return all, err
		}
		c.logger.Debug("page fetched",
			"since", since,
			"until", until,
			"games", len(page),
		)
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		since = page[len(page)-1].CreatedAt + 1

		if err := c.sleep(ctx, c.config.PageDelay); err != nil {
			return all, err
		}
		if len(page) < pageSize {
			break
		}
		if until > 0 && since > until {
			break
		}
	}

	if c.config.Metrics != nil {
		c.config.Metrics.AddGamesFetched(len(all))
	}
	return all, nil
}

// FetchRange backfills [from, to] in ChunkSize windows, one Fetch per window.
func (c *Client) FetchRange(ctx context.Context, from, to int64) ([]*game.Game, error) {
	var all []*game.Game
	chunk := c.config.ChunkSize.Milliseconds()

	for start := from; start <= to; {
		end := start + chunk - 1
		if end > to {
			end = to
		}
		c.logger.Info("fetching chunk",
			"from", timeutil.FormatMillis(start),
			"to", timeutil.FormatMillis(end),
		)
		games, err := c.Fetch(ctx, start, end)
		all = append(all, games...)
		if err != nil {
			return all, fmt.Errorf("fetch chunk %d-%d: %w", start, end, err)
		}
		start = end + 1
	}
	return all, nil
}

// fetchPage retries one page request until it succeeds or ctx ends.
func (c *Client) fetchPage(ctx context.Context, since, until int64) ([]*game.Game, error) {
	return retry.DoWithRetrier(ctx, c.retrier, func(ctx context.Context) ([]*game.Game, error) {
		if err := c.rateLimiter.Allow(ctx); err != nil {
			return nil, err
		}

		started := time.Now()
		games, err := c.doSingleRequest(ctx, since, until)
		c.observe(err, time.Since(started))

		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) {
			wait := c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
			return nil, retry.RetryableAfter(err, wait)
		}
		return games, err
	})
}

func (c *Client) observe(err error, d time.Duration) {
	if c.config.Metrics == nil {
		return
	}
	outcome := "ok"
	var rateLimitErr *RateLimitError
	var statusErr *StatusError
	switch {
	case err == nil:
	case errors.As(err, &rateLimitErr):
		outcome = "rate_limited"
		c.config.Metrics.IncUpstreamRateLimited()
	case errors.As(err, &statusErr):
		outcome = "http_" + strconv.Itoa(statusErr.Code)
	default:
		outcome = "error"
	}
	c.config.Metrics.ObserveUpstreamRequest(outcome, d)
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// StatusError is a non-200, non-429 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("game export: unexpected status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return target == shared.ErrUnauthorized
	}
	return target == shared.ErrServiceUnavailable
}

// exportURL builds the export request URL.
func (c *Client) exportURL(since, until int64) string {
	params := url.Values{}
	params.Set("since", strconv.FormatInt(since, 10))
	if until > 0 {
		params.Set("until", strconv.FormatInt(until, 10))
	}
	params.Set("max", strconv.Itoa(c.config.PageSize))
	params.Set("pgnInJson", "true")
	params.Set("clocks", "false")
	params.Set("moves", "false")
	return c.config.BaseURL + "/api/games/user/" + url.PathEscape(c.config.Account) + "?" + params.Encode()
}

// doSingleRequest performs one export request and decodes the NDJSON body.
func (c *Client) doSingleRequest(ctx context.Context, since, until int64) ([]*game.Game, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.exportURL(since, until), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.rateLimiter.now()),
			Message:    "rate limit exceeded",
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
		if resp.StatusCode == http.StatusUnauthorized {
			c.logger.Error("game server rejected the API token", "status", resp.StatusCode)
		}
		return nil, statusErr
	}

	return c.decodeBody(resp.Body)
}

// decodeBody reads NDJSON; a line that does not decode is logged and skipped.
func (c *Client) decodeBody(body io.Reader) ([]*game.Game, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var games []*game.Game
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		g, err := game.Decode(line)
		if err != nil {
			c.logger.Warn("skipping undecodable game line", "error", err, "bytes", len(line))
			continue
		}
		games = append(games, g)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return games, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date; 0 means "use default".
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a snapshot of the client state.
type ClientStatus struct {
	RateLimiter RateLimiterStatus
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{RateLimiter: c.rateLimiter.Status()}
}
