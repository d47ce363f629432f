package chatsync

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

const (
	// DefaultSocketPath is the messaging server's socket path.
	DefaultSocketPath = "/api/socket"

	defaultTimeout = 30 * time.Second
)

// Client is the HTTP client for the marketplace backend. It supplies the
// user, order and conversation snapshots the sync engine consumes, through
// sub-clients per resource.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	Users         *UsersClient
	Orders        *OrdersClient
	Conversations *ConversationsClient
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the backend base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithToken sets the bearer token sent on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a marketplace client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Users = &UsersClient{c: c}
	c.Orders = &OrdersClient{c: c}
	c.Conversations = &ConversationsClient{c: c}
	return c
}

// BaseURL returns the backend base URL, e.g. for deriving the socket URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Directory fetches a full snapshot in one pass, making *Client usable as
// the engine's DirectorySource.
func (c *Client) Directory(ctx context.Context) (Directory, error) {
	users, err := c.Users.List(ctx)
	if err != nil {
		return Directory{}, fmt.Errorf("fetch users: %w", err)
	}
	orders, err := c.Orders.List(ctx, "")
	if err != nil {
		return Directory{}, fmt.Errorf("fetch orders: %w", err)
	}
	convs, err := c.Conversations.List(ctx)
	if err != nil {
		return Directory{}, fmt.Errorf("fetch conversations: %w", err)
	}
	return Directory{Users: users, Orders: orders, Conversations: convs}, nil
}

// ── internal request helper ──────────────────────────────

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query map[string]string) (*APIResult, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result APIResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func decodeList[T any](result *APIResult) ([]T, error) {
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("request not ok")
	}
	var list []T
	if err := result.Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return list, nil
}

// ============================================================================
// Sub-Clients
// ============================================================================

// UsersClient reads the marketplace user set.
type UsersClient struct{ c *Client }

func (u *UsersClient) List(ctx context.Context) ([]User, error) {
	result, err := u.c.doRequest(ctx, "GET", "/api/users", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[User](result)
}

func (u *UsersClient) Get(ctx context.Context, userID string) (*User, error) {
	result, err := u.c.doRequest(ctx, "GET", "/api/users/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("request not ok")
	}
	var user User
	if err := result.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &user, nil
}

// OrdersClient reads the order set, the source of truth for conversation
// visibility.
type OrdersClient struct{ c *Client }

// List returns orders, optionally restricted to those involving userID as
// client or freelancer.
func (o *OrdersClient) List(ctx context.Context, userID string) ([]Order, error) {
	var query map[string]string
	if userID != "" {
		query = map[string]string{"userId": userID}
	}
	result, err := o.c.doRequest(ctx, "GET", "/api/orders", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeList[Order](result)
}

// ConversationsClient reads conversation metadata and history.
type ConversationsClient struct{ c *Client }

func (cv *ConversationsClient) List(ctx context.Context) ([]Conversation, error) {
	result, err := cv.c.doRequest(ctx, "GET", "/api/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[Conversation](result)
}

// History returns the server-side message history of a conversation, oldest
// first, for seeding the local store before realtime sync takes over.
func (cv *ConversationsClient) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	var query map[string]string
	if limit > 0 {
		query = map[string]string{"limit": fmt.Sprintf("%d", limit)}
	}
	result, err := cv.c.doRequest(ctx, "GET", "/api/conversations/"+conversationID+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeList[Message](result)
}

// MarkAsRead reports the conversation as read to the backend.
func (cv *ConversationsClient) MarkAsRead(ctx context.Context, conversationID string) error {
	result, err := cv.c.doRequest(ctx, "POST", "/api/conversations/"+conversationID+"/read", nil, nil)
	if err != nil {
		return err
	}
	if !result.OK {
		if result.Error != nil {
			return result.Error
		}
		return fmt.Errorf("request not ok")
	}
	return nil
}
