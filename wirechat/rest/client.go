package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vovakirdan/wirechat-sync/wirechat"
)

// Client is the credential source and history store of a WireChat server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the token for authenticated requests. Login and
// GuestLogin set it on success.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current credential.
func (c *Client) Token() string {
	return c.token
}

// Register creates a user account and logs it in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.post(ctx, "/register", req, &resp, false); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// Login authenticates with existing credentials.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.post(ctx, "/login", req, &resp, false); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// GuestLogin creates a temporary guest user.
func (c *Client) GuestLogin(ctx context.Context) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.post(ctx, "/guest", nil, &resp, false); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// ListConversations returns the conversations the user belongs to.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationInfo, error) {
	var resp []ConversationInfo
	if err := c.get(ctx, "/conversations", &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetMessages retrieves history for a conversation.
// limit: maximum number of messages to return (server default when <= 0).
// before: server id of the oldest message already loaded, "" for the latest page.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit int, before string) (*MessagesResponse, error) {
	if conversationID == "" {
		return nil, wirechat.NewError(wirechat.ErrorBadRequest, "empty conversation id")
	}
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before != "" {
		q.Set("before", before)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp MessagesResponse
	if err := c.get(ctx, path, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any, requireAuth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return wirechat.WrapError(wirechat.ErrorSerialization, "marshal request", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return wirechat.WrapError(wirechat.ErrorInvalidConfig, "create request", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, dest, requireAuth)
}

func (c *Client) get(ctx context.Context, path string, dest any, requireAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return wirechat.WrapError(wirechat.ErrorInvalidConfig, "create request", err)
	}

	return c.do(req, dest, requireAuth)
}

func (c *Client) do(req *http.Request, dest any, requireAuth bool) error {
	if requireAuth {
		if c.token == "" {
			return wirechat.ErrUnauthenticated
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return wirechat.WrapError(wirechat.ErrorTimeout, "http request", err)
			}
			return wirechat.WrapError(wirechat.ErrorCancelled, "http request", err)
		}
		return wirechat.WrapError(wirechat.ErrorConnection, "http request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wirechat.WrapError(wirechat.ErrorConnection, "read response", err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, body)
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return wirechat.WrapError(wirechat.ErrorSerialization, "unmarshal response", err)
		}
	}

	return nil
}

// statusError maps an HTTP failure onto the wirechat error codes. A
// protocol code in the body wins over the status.
func statusError(status int, body []byte) error {
	msg := string(body)
	code := wirechat.ErrorUnknown
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
		code = wirechat.ParseErrorCode(errResp.Code)
	}
	if code == wirechat.ErrorUnknown {
		switch {
		case status == http.StatusUnauthorized:
			code = wirechat.ErrorUnauthorized
		case status == http.StatusForbidden:
			code = wirechat.ErrorAccessDenied
		case status == http.StatusNotFound:
			code = wirechat.ErrorConversationNotFound
		case status == http.StatusTooManyRequests:
			code = wirechat.ErrorRateLimited
		case status >= 500:
			code = wirechat.ErrorInternalServer
		case status >= 400:
			code = wirechat.ErrorBadRequest
		}
	}
	return wirechat.NewError(code, fmt.Sprintf("api error (status %d): %s", status, msg))
}
