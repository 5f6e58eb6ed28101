// Package secsvc is the client for the central security service: tenant
// environment listing, asset-inventory scope reads, and finding
// publication.
package secsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/stratumsec/warden/retry"
	"github.com/stratumsec/warden/telemetry"
	"github.com/stratumsec/warden/types"
)

// TokenProvider supplies the bearer token for service calls. Token
// acquisition itself is an external collaborator.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

// Token returns the fixed token.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// StatusError reports an unexpected HTTP status from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("security service returned status %d: %s", e.Code, e.Body)
}

// retryableHTTP classifies transport errors and 429/5xx statuses as
// transient.
func retryableHTTP(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	// Network-level failures are worth retrying.
	return err != nil
}

// Client talks to the security service.
type Client struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
	policy  retry.Policy
	logger  *telemetry.Logger
}

// NewClient creates a security service client.
func NewClient(baseURL string, tokens TokenProvider) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
		policy: retry.Policy{
			MaxAttempts: 5,
			Backoff:     2 * time.Second,
			Classifier:  retryableHTTP,
		},
		logger: telemetry.NewLogger("secsvc"),
	}
}

// getJSON performs a token-authenticated GET and decodes the response
// into out, retrying transient failures.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire token: %w", err)
	}

	body, err := retry.Do(ctx, c.policy, func() ([]byte, error) {
		return c.doGet(ctx, path, query, token)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, token string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// ListSources lists the tenant environments registered against a cloud
// account.
func (c *Client) ListSources(ctx context.Context, accountID string) ([]types.Environment, error) {
	var payload struct {
		Sources []types.Environment `json:"sources"`
	}

	query := url.Values{"account_id": {accountID}}
	if err := c.getJSON(ctx, "/api/v2/sources", query, &payload); err != nil {
		return nil, fmt.Errorf("failed to list sources for account %s: %w", accountID, err)
	}
	return payload.Sources, nil
}
