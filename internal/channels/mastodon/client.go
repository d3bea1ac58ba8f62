package mastodon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Account is a Mastodon account, trimmed to the fields the bridge uses.
type Account struct {
	ID       string `json:"id"`
	Acct     string `json:"acct"`
	Username string `json:"username"`
}

// Mention is an at-mention inside a status.
type Mention struct {
	ID   string `json:"id"`
	Acct string `json:"acct"`
}

// Status is a Mastodon status, trimmed to the fields the bridge uses.
// Content is HTML as delivered by the API.
type Status struct {
	ID          string    `json:"id"`
	URI         string    `json:"uri"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	Content     string    `json:"content"`
	Visibility  string    `json:"visibility"`
	InReplyToID string    `json:"in_reply_to_id"`
	Account     Account   `json:"account"`
	Mentions    []Mention `json:"mentions"`
	Reblog      *Status   `json:"reblog"`
}

// Client is a minimal Mastodon REST client.
type Client struct {
	server string
	token  string
	http   *http.Client
}

// NewClient returns a client for the given server base URL and access
// token.
func NewClient(server, token string) *Client {
	return &Client{
		server: strings.TrimSuffix(server, "/"),
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Server returns the configured server base URL.
func (c *Client) Server() string { return c.server }

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = bytes.NewBufferString(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// VerifyCredentials returns the account the token belongs to.
func (c *Client) VerifyCredentials(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// PostStatus publishes a status, optionally as a reply.
func (c *Client) PostStatus(ctx context.Context, text, inReplyToID string) (*Status, error) {
	form := url.Values{"status": {text}}
	if inReplyToID != "" {
		form.Set("in_reply_to_id", inReplyToID)
	}
	var status Status
	if err := c.do(ctx, http.MethodPost, "/api/v1/statuses", form, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Reblog boosts a status.
func (c *Client) Reblog(ctx context.Context, statusID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/statuses/%s/reblog", statusID), url.Values{}, nil)
}

// Followers returns accounts following accountID. Single page, newest
// first; 80 is the API maximum.
func (c *Client) Followers(ctx context.Context, accountID string) ([]Account, error) {
	var accounts []Account
	path := fmt.Sprintf("/api/v1/accounts/%s/followers?limit=80", accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Following returns accounts that accountID follows.
func (c *Client) Following(ctx context.Context, accountID string) ([]Account, error) {
	var accounts []Account
	path := fmt.Sprintf("/api/v1/accounts/%s/following?limit=80", accountID)
	if err := c.do(ctx, http.MethodGet, path, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Follow follows an account.
func (c *Client) Follow(ctx context.Context, accountID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/accounts/%s/follow", accountID), url.Values{}, nil)
}

// AccountStatuses returns recent statuses by an account, newest first.
func (c *Client) AccountStatuses(ctx context.Context, accountID string, limit int) ([]Status, error) {
	if limit <= 0 || limit > 40 {
		limit = 40
	}
	var statuses []Status
	path := fmt.Sprintf("/api/v1/accounts/%s/statuses?limit=%d&exclude_reblogs=true", accountID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// StreamingURL returns the websocket endpoint for a stream name. listID is
// only meaningful for the "list" stream.
func (c *Client) StreamingURL(stream, listID string) string {
	base := c.server
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)

	q := url.Values{}
	q.Set("access_token", c.token)
	q.Set("stream", stream)
	if listID != "" {
		q.Set("list", listID)
	}
	return base + "/api/v1/streaming?" + q.Encode()
}
