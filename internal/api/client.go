package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/npezzotti/go-forumsync/internal/types"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Authorizer provides the Authorization header value for requests.
type Authorizer interface {
	Bearer() (string, error)
}

// Client calls the backend REST endpoints the sync layer depends on.
type Client struct {
	log     *zap.Logger
	baseURL *url.URL
	auth    Authorizer
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func NewClient(l *zap.Logger, baseURL string, auth Authorizer, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}

	c := &Client{
		log:     l,
		baseURL: u,
		auth:    auth,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

type countResponse struct {
	Count int `json:"count"`
}

type messagesResponse struct {
	Messages []types.Message `json:"messages"`
}

func (c *Client) UnreadMessageCount(ctx context.Context) (int, error) {
	var resp countResponse
	if err := c.do(ctx, http.MethodGet, "/api/messages/unread-count", nil, nil, &resp); err != nil {
		return 0, fmt.Errorf("unread message count: %w", err)
	}
	return resp.Count, nil
}

func (c *Client) UnreadNotificationCount(ctx context.Context) (int, error) {
	var resp countResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", nil, nil, &resp); err != nil {
		return 0, fmt.Errorf("unread notification count: %w", err)
	}
	return resp.Count, nil
}

// ConversationHistory returns the most recent private messages exchanged
// with peer.
func (c *Client) ConversationHistory(ctx context.Context, peer, limit int) ([]types.Message, error) {
	var resp messagesResponse
	path := "/api/messages/conversation/" + strconv.Itoa(peer)
	if err := c.do(ctx, http.MethodGet, path, limitQuery(limit), nil, &resp); err != nil {
		return nil, fmt.Errorf("conversation history: %w", err)
	}
	return resp.Messages, nil
}

// ChatHistory returns the most recent public room messages.
func (c *Client) ChatHistory(ctx context.Context, limit int) ([]types.Message, error) {
	var resp messagesResponse
	if err := c.do(ctx, http.MethodGet, "/api/chat/messages", limitQuery(limit), nil, &resp); err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	return resp.Messages, nil
}

func (c *Client) MarkMessageRead(ctx context.Context, id string) error {
	path := "/api/messages/" + url.PathEscape(id) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, nil); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

// MarkConversationRead marks every message from peer as read and returns
// how many were unread.
func (c *Client) MarkConversationRead(ctx context.Context, peer int) (int, error) {
	var resp countResponse
	path := "/api/messages/conversation/" + strconv.Itoa(peer) + "/read"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &resp); err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return resp.Count, nil
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("json marshal: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	bearer, err := c.auth.Bearer()
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	req.Header.Set("Authorization", bearer)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newApiError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}
