// Package wavechat provides the Go SDK for the WaveChat messaging API.
//
// The heart of the package is the sync engine: it keeps a locally cached,
// paginated view of chats and messages consistent with the server's realtime
// event hub, reconciling messages the client itself sent optimistically
// before the server confirmed them.
//
// Example:
//
//	client := wavechat.NewClient("wc-token-...")
//	store := wavechat.NewStore()
//	engine := wavechat.NewEngine(client, store)
//
//	ctx := context.Background()
//	if err := engine.Start(ctx, "wc-token-..."); err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	engine.SetActiveChat(ctx, "chat-123")
//	engine.SendMessage(ctx, "chat-123", "hello")
package wavechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.wavechat.io"
	// DefaultTimeout bounds individual REST calls.
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client. The sync engine uses it for sends and for the
// full refetches that invalidation degrades to; it is also usable on its
// own.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a WaveChat REST client.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer credential for subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured API endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Realtime creates a hub client bound to this client's endpoint and
// credential. Zero-value config fields get defaults.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	if config == nil {
		config = &RealtimeConfig{}
	}
	if config.BaseURL == "" {
		config.BaseURL = c.baseURL
	}
	if config.Token == "" {
		config.Token = c.token
	}
	return NewRealtimeClient(config)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
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
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
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

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var wrapped struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &wrapped) == nil && wrapped.Error != nil {
			apiErr.Code = wrapped.Error.Code
			apiErr.Message = wrapped.Error.Message
		}
		apiErr.Status = resp.StatusCode
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// ============================================================================
// Chats
// ============================================================================

// ListChats fetches one page of the viewer's chat list, newest first.
// Pages start at 1.
func (c *Client) ListChats(ctx context.Context, page int) (ChatPage, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/chats", nil, map[string]string{
		"page": strconv.Itoa(page),
	})
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[struct {
		Chats ChatPage `json:"chats"`
	}](data)
	if err != nil {
		return nil, err
	}
	return res.Chats, nil
}

// GetChat fetches a single chat.
func (c *Client) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/chats/"+chatID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Chat](data)
}

// MarkRead reports that the viewer has read a chat up to its newest message.
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/api/chats/"+chatID+"/read", nil, nil)
	return err
}

// ============================================================================
// Messages
// ============================================================================

// ListMessages fetches one page of a chat's messages, newest first. Pages
// start at 1.
func (c *Client) ListMessages(ctx context.Context, chatID string, page int) (MessagePage, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/chats/"+chatID+"/messages", nil, map[string]string{
		"page": strconv.Itoa(page),
	})
	if err != nil {
		return nil, err
	}
	res, err := decodeJSON[struct {
		Messages MessagePage `json:"messages"`
	}](data)
	if err != nil {
		return nil, err
	}
	return res.Messages, nil
}

// SendMessage posts a message. clientID is the provisional id of the
// optimistic cache entry; the server persists it so echoes can be matched
// even if this response is lost.
func (c *Client) SendMessage(ctx context.Context, chatID, content, clientID string) (*Message, error) {
	body := map[string]string{
		"content":  content,
		"clientId": clientID,
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/api/chats/"+chatID+"/messages", body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// EditMessage patches a message's content.
func (c *Client) EditMessage(ctx context.Context, chatID, messageID, content string) (*Message, error) {
	body := map[string]string{"content": content}
	data, err := c.doRequest(ctx, http.MethodPatch, "/api/chats/"+chatID+"/messages/"+messageID, body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// DeleteMessage soft-deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/chats/"+chatID+"/messages/"+messageID, nil, nil)
	return err
}

// RestoreMessage reverses a soft delete.
func (c *Client) RestoreMessage(ctx context.Context, chatID, messageID string) (*Message, error) {
	data, err := c.doRequest(ctx, http.MethodPost, "/api/chats/"+chatID+"/messages/"+messageID+"/restore", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// ============================================================================
// Reactions
// ============================================================================

// AddReaction adds the viewer's reaction to a message.
func (c *Client) AddReaction(ctx context.Context, chatID, messageID, emoji string) error {
	body := map[string]string{"emoji": emoji}
	_, err := c.doRequest(ctx, http.MethodPost, "/api/chats/"+chatID+"/messages/"+messageID+"/reactions", body, nil)
	return err
}

// RemoveReaction removes the viewer's reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, chatID, messageID, emoji string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/chats/"+chatID+"/messages/"+messageID+"/reactions/"+url.PathEscape(emoji), nil, nil)
	return err
}
