package nimbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/ledgersync_backend/models"
	"github.com/mmdatafocus/ledgersync_backend/utils"
)

// maxAttempts bounds the retry budget for 429/5xx responses. A 401 refresh
// retry is not counted against it.
const maxAttempts = 4

var (
	// ErrUnauthorized means the token refresh itself was rejected, or a second
	// 401 followed a successful refresh. The connection needs re-authorizing.
	ErrUnauthorized = errors.New("nimbus: unauthorized")
)

// Config wires a Client. Everything is explicit so tests can point the client
// at a local server with millisecond backoffs.
type Config struct {
	BaseURL        string
	TokenURL       string
	ClientID       string
	ClientSecret   string
	AccessToken    string
	RefreshToken   string
	TokenExpiresAt time.Time
	RatePerMinute  int
	RetryBackoff   time.Duration
	HTTPTimeout    time.Duration

	// SaveTokens persists refreshed credentials. Optional.
	SaveTokens func(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time) error
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter <-chan time.Time

	mu             sync.Mutex
	accessToken    string
	refreshToken   string
	tokenExpiresAt time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = strings.TrimSpace(os.Getenv("NIMBUS_API_BASE_URL"))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.nimbusbooks.com"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = strings.TrimSpace(os.Getenv("NIMBUS_TOKEN_URL"))
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = strings.TrimRight(cfg.BaseURL, "/") + "/oauth/token"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = strings.TrimSpace(os.Getenv("NIMBUS_CLIENT_ID"))
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = strings.TrimSpace(os.Getenv("NIMBUS_CLIENT_SECRET"))
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = utils.IntFromEnv("NIMBUS_RATE_LIMIT_PER_MIN", 60)
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	return &Client{
		cfg:            cfg,
		http:           &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:        time.Tick(time.Minute / time.Duration(cfg.RatePerMinute)),
		accessToken:    cfg.AccessToken,
		refreshToken:   cfg.RefreshToken,
		tokenExpiresAt: cfg.TokenExpiresAt,
	}
}

// ForConnection builds a client from a tenant's stored connection; refreshed
// tokens are written back to the connection row.
func ForConnection(conn *models.Connection) *Client {
	cfg := Config{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		SaveTokens: func(ctx context.Context, accessToken, refreshToken string, expiresAt time.Time) error {
			return models.SaveConnectionTokens(ctx, conn.ID, accessToken, refreshToken, expiresAt)
		},
	}
	if conn.TokenExpiresAt != nil {
		cfg.TokenExpiresAt = *conn.TokenExpiresAt
	}
	return New(cfg)
}

// ListResult is the accumulated output of paging one endpoint forward.
type ListResult struct {
	Records      []json.RawMessage
	MaxWatermark string
}

// FetchAll pages the given list endpoint until the upstream reports no more
// pages, accumulating records and the maximum last_modified watermark seen.
// since, when non-empty, is sent as the modified_since parameter (normalized
// to the ISO-8601 subset Nimbus accepts).
func (c *Client) FetchAll(ctx context.Context, path string, collectionKey string, since string) (ListResult, error) {
	var result ListResult

	params := url.Values{}
	if since != "" {
		normalized, err := utils.NormalizeCursorParam(since)
		if err != nil {
			return result, fmt.Errorf("nimbus: bad cursor %q: %w", since, err)
		}
		params.Set("modified_since", normalized)
	}
	params.Set("limit", "200")

	page := 1
	for {
		params.Set("page", strconv.Itoa(page))
		body, err := c.do(ctx, http.MethodGet, path+"?"+params.Encode(), nil, "")
		if err != nil {
			return result, err
		}

		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return result, fmt.Errorf("nimbus: decode %s page %d: %w", path, page, err)
		}

		var records []json.RawMessage
		if raw, ok := envelope[collectionKey]; ok {
			if err := json.Unmarshal(raw, &records); err != nil {
				return result, fmt.Errorf("nimbus: decode %s collection %q: %w", path, collectionKey, err)
			}
		}
		for _, rec := range records {
			result.Records = append(result.Records, rec)
			var peek struct {
				LastModified string `json:"last_modified"`
			}
			if err := json.Unmarshal(rec, &peek); err == nil && peek.LastModified != "" {
				result.MaxWatermark = utils.MaxWatermark(result.MaxWatermark, peek.LastModified)
			}
		}

		hasMore := false
		if raw, ok := envelope["has_more"]; ok {
			_ = json.Unmarshal(raw, &hasMore)
		}
		if !hasMore {
			return result, nil
		}
		page++
	}
}

// CreateInvoice is the single outbound write path. The idempotency key is
// derived from the internal invoice id by the caller, so a retried POST after
// a dropped response cannot create a duplicate upstream.
func (c *Client) CreateInvoice(ctx context.Context, inv InvoicePush, idempotencyKey string) (json.RawMessage, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, errors.New("nimbus: idempotency key is required")
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/v1/invoices", payload, idempotencyKey)
}

func (c *Client) do(ctx context.Context, method string, pathAndQuery string, body []byte, idempotencyKey string) (json.RawMessage, error) {
	refreshed := false

	for attempt := 1; ; attempt++ {
		if err := c.ensureFreshToken(ctx); err != nil {
			return nil, err
		}

		select {
		case <-c.limiter:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+pathAndQuery, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.currentAccessToken())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return respBody, nil

		case resp.StatusCode == http.StatusUnauthorized:
			// One refresh-and-retry cycle, outside the generic retry budget.
			if refreshed {
				return nil, ErrUnauthorized
			}
			if err := c.refreshAccessToken(ctx); err != nil {
				return nil, err
			}
			refreshed = true

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if attempt >= maxAttempts {
				return nil, fmt.Errorf("nimbus: %s %s failed after %d attempts: status %d: %s",
					method, pathAndQuery, attempt, resp.StatusCode, strings.TrimSpace(string(respBody)))
			}
			// Linear backoff.
			select {
			case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

		default:
			return nil, fmt.Errorf("nimbus: %s %s: status %d: %s",
				method, pathAndQuery, resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
	}
}

func (c *Client) currentAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// ensureFreshToken refreshes proactively when the stored expiry is imminent.
func (c *Client) ensureFreshToken(ctx context.Context) error {
	c.mu.Lock()
	needsRefresh := !c.tokenExpiresAt.IsZero() && time.Until(c.tokenExpiresAt) < time.Minute
	c.mu.Unlock()
	if !needsRefresh {
		return nil
	}
	return c.refreshAccessToken(ctx)
}

func (c *Client) refreshAccessToken(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()
	if refreshToken == "" {
		return ErrUnauthorized
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if c.cfg.ClientID != "" {
		form.Set("client_id", c.cfg.ClientID)
	}
	if c.cfg.ClientSecret != "" {
		form.Set("client_secret", c.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: token refresh status %d", ErrUnauthorized, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.Unmarshal(respBody, &token); err != nil {
		return fmt.Errorf("nimbus: decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return fmt.Errorf("%w: empty access token in refresh response", ErrUnauthorized)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	expiresAt := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.refreshToken = token.RefreshToken
	c.tokenExpiresAt = expiresAt
	c.mu.Unlock()

	if c.cfg.SaveTokens != nil {
		if err := c.cfg.SaveTokens(ctx, token.AccessToken, token.RefreshToken, expiresAt); err != nil {
			return err
		}
	}
	return nil
}
