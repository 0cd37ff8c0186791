// Package apiclient talks to the chat server's request/response API.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"chat-client/internal/models"
	"chat-client/internal/observability"
)

// DefaultTimeout bounds every API call.
const DefaultTimeout = 60 * time.Second

var ErrInvalidBaseURL = errors.New("api base url must be absolute http(s)")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

type friendRequest struct {
	UserID string `json:"userId"`
}

type friendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Client calls the API with a bearer token per request.
type Client struct {
	base   *url.URL
	http   *http.Client
	decode models.Decoder
}

// New builds a client for baseURL. A nil httpClient gets DefaultTimeout.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{base: u, http: httpClient, decode: models.NewDecoder()}, nil
}

// SearchUsers looks users up by name or email.
func (c *Client) SearchUsers(ctx context.Context, token, query string) ([]models.User, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/users/search", url.Values{"q": {query}}, token, nil)
	if err != nil {
		return nil, err
	}
	return c.users(body), nil
}

// SendFriendRequest asks userID to become a friend.
func (c *Client) SendFriendRequest(ctx context.Context, token, userID string) (bool, error) {
	return c.friendAction(ctx, "/api/friends/request", token, userID)
}

// AcceptFriendRequest accepts the request sent by userID.
func (c *Client) AcceptFriendRequest(ctx context.Context, token, userID string) (bool, error) {
	return c.friendAction(ctx, "/api/friends/accept", token, userID)
}

// PendingRequests lists users waiting for an answer.
func (c *Client) PendingRequests(ctx context.Context, token string) ([]models.User, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/friends/pending", nil, token, nil)
	if err != nil {
		return nil, err
	}
	return c.users(body), nil
}

func (c *Client) friendAction(ctx context.Context, path, token, userID string) (bool, error) {
	body, err := c.do(ctx, http.MethodPost, path, nil, token, friendRequest{UserID: userID})
	if err != nil {
		return false, err
	}
	var resp friendResponse
	if err := jsoniter.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("decode %s response: %w", path, err)
	}
	if !resp.Success && resp.Message != "" {
		log.Info().Str("path", path).Str("user_id", userID).Str("reason", resp.Message).Msg("friend request not accepted")
	}
	return resp.Success, nil
}

// users accepts a bare array or an object with a "users" field.
func (c *Client) users(body []byte) []models.User {
	if list := c.decode.Users(body, ""); len(list) > 0 {
		return list
	}
	return c.decode.Users(body, "users")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, payload any) ([]byte, error) {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var reqBody io.Reader
	if payload != nil {
		data, err := jsoniter.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		observability.IncAPIRequest(path, 0)
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	observability.IncAPIRequest(path, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

// errorMessage pulls "error" or "message" out of a JSON error body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	for _, key := range []string{"error", "message"} {
		if v := jsoniter.Get(body, key); v.ValueType() == jsoniter.StringValue {
			return v.ToString()
		}
	}
	return strings.TrimSpace(string(body))
}
