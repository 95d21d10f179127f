package client

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

	"github.com/RichardoC/matrixchat/internal/api"
	"github.com/RichardoC/matrixchat/internal/models"
)

const (
	DefaultServerURL = "http://localhost:8080"
)

// APIError is returned for any non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.Status, e.Message)
}

// APIClient talks to the matrixchat HTTP API.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Option is a functional option for configuring the client
type Option func(*APIClient)

// WithServerURL sets the server URL for the client
func WithServerURL(serverURL string) Option {
	return func(c *APIClient) {
		c.BaseURL = strings.TrimSuffix(serverURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *APIClient) {
		c.HTTPClient = httpClient
	}
}

// WithTimeout bounds every request made by the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *APIClient) {
		c.HTTPClient = &http.Client{Timeout: timeout}
	}
}

func NewAPIClient(opts ...Option) *APIClient {
	c := &APIClient{
		BaseURL: DefaultServerURL,
		HTTPClient: &http.Client{
			// Completions are slow; leave room for the provider round trip.
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *APIClient) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var resp api.ConversationsResponse
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *APIClient) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	var resp api.ConversationResponse
	if err := c.do(ctx, http.MethodPost, "/conversations", nil, api.CreateConversationRequest{Title: title}, &resp); err != nil {
		return nil, err
	}
	if resp.Conversation == nil {
		return nil, fmt.Errorf("server returned no conversation")
	}
	return resp.Conversation, nil
}

func (c *APIClient) UpdateConversationTitle(ctx context.Context, id int64, title string) error {
	return c.do(ctx, http.MethodPut, "/conversations", idQuery("id", id), api.UpdateConversationRequest{Title: title}, nil)
}

func (c *APIClient) DeleteConversation(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/conversations", idQuery("id", id), nil, nil)
}

func (c *APIClient) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var resp api.MessagesResponse
	if err := c.do(ctx, http.MethodGet, "/chat", idQuery("conversationId", conversationID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *APIClient) SendMessage(ctx context.Context, conversationID int64, content string) (*models.Turn, error) {
	var turn models.Turn
	req := api.ChatRequest{Message: content, ConversationID: conversationID}
	if err := c.do(ctx, http.MethodPost, "/chat", nil, req, &turn); err != nil {
		return nil, err
	}
	if turn.UserMessage == nil || turn.AssistantMessage == nil {
		return nil, fmt.Errorf("server returned an incomplete turn")
	}
	return &turn, nil
}

func idQuery(name string, id int64) url.Values {
	return url.Values{name: []string{strconv.FormatInt(id, 10)}}
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, body, result interface{}) error {
	target := c.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return &APIError{Status: resp.StatusCode, Message: body.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
}
