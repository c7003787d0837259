package auditapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"unqork-logs/internal/domain"
)

// AuditLogsPath is the log-location endpoint relative to the base URL.
const AuditLogsPath = "/api/1.0/logs/audit-logs"

// Retry defaults.
const (
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 500 * time.Millisecond
)

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// ClientConfig holds the settings for NewClient.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	// Limiter is shared by every request the client makes. Nil means unlimited.
	Limiter     *rate.Limiter
	MaxRetries  int
	BaseBackoff time.Duration
	Logger      *slog.Logger
}

// Client is the authenticated audit-log API client. It is safe for
// concurrent use.
type Client struct {
	baseURL     string
	http        *http.Client
	tokens      TokenSource
	limiter     *rate.Limiter
	maxRetries  uint64
	baseBackoff time.Duration
	logger      *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        cfg.HTTPClient,
		tokens:      cfg.Tokens,
		limiter:     cfg.Limiter,
		maxRetries:  uint64(cfg.MaxRetries),
		baseBackoff: cfg.BaseBackoff,
		logger:      cfg.Logger.With("component", "auditapi"),
	}
}

type logLocationsResponse struct {
	LogLocations []string `json:"logLocations"`
}

// ListLogLocations returns the file URLs the API holds for window w.
// An empty list is a valid answer.
func (c *Client) ListLogLocations(ctx context.Context, w domain.FetchWindow) ([]string, error) {
	q := url.Values{}
	q.Set("startDatetime", domain.FormatAPITime(w.Start))
	q.Set("endDatetime", domain.FormatAPITime(w.End))
	target := c.baseURL + AuditLogsPath + "?" + q.Encode()

	body, err := c.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("list log locations %s: %w", w, err)
	}

	var resp logLocationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.APIError{URL: target, StatusCode: http.StatusOK, Body: "invalid JSON: " + err.Error()}
	}
	c.logger.Debug("listed log locations", "window", w.String(), "files", len(resp.LogLocations))
	return resp.LogLocations, nil
}

// Download fetches one log file and returns its raw (still compressed) bytes.
func (c *Client) Download(ctx context.Context, fileURL string) ([]byte, error) {
	return c.get(ctx, fileURL)
}

// get performs an authenticated GET, retrying transient failures with
// exponential backoff.
func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.WithJitterPercent(10, retry.NewExponential(c.baseBackoff)))

	var body []byte
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		b, err := c.getAuthed(ctx, target)
		if err != nil {
			var transient *domain.TransientNetworkError
			if errors.As(err, &transient) {
				c.logger.Debug("transient failure, retrying", "attempt", attempt, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// getAuthed attaches the bearer token. A 401 invalidates that token and the
// request is repeated once with a fresh one.
func (c *Client) getAuthed(ctx context.Context, target string) ([]byte, error) {
	cred, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	body, status, err := c.do(ctx, target, cred.AccessToken)
	if status != http.StatusUnauthorized {
		return body, err
	}

	c.logger.Debug("got 401, refreshing token")
	c.tokens.Invalidate(cred.AccessToken)
	cred, err = c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	body, status, err = c.do(ctx, target, cred.AccessToken)
	if status == http.StatusUnauthorized {
		return nil, domain.ErrAuth(err, "request rejected after token refresh (HTTP 401)")
	}
	return body, err
}

// do sends a single GET. A 401 is reported through the status with a nil
// body so the caller can refresh and retry.
func (c *Client) do(ctx context.Context, target, accessToken string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, &domain.TransientNetworkError{URL: target, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, resp.StatusCode, ctx.Err()
			}
			return nil, resp.StatusCode, &domain.TransientNetworkError{URL: target, Err: err}
		}
		return body, resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, &domain.APIError{URL: target, StatusCode: resp.StatusCode}
	case isTransientStatus(resp.StatusCode):
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, &domain.TransientNetworkError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
		}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, resp.StatusCode, &domain.APIError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
