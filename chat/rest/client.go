package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jitae1214/TDC-sub000/chat"
)

// Client provides REST API access to the workspace backend: authentication,
// workspace directory lookups, and room message history.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a REST API client. baseURL is the API root, e.g.
// "http://localhost:8080/api".
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

// SetToken sets the bearer token for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Login authenticates with existing credentials and returns a bearer token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.post(ctx, "/login", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Workspaces returns all workspaces the authenticated user belongs to.
func (c *Client) Workspaces(ctx context.Context) ([]WorkspaceInfo, error) {
	var resp []WorkspaceInfo
	if err := c.get(ctx, "/workspaces", &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// WorkspaceMembers returns the member directory of a workspace. The chat core
// uses it only to resolve sender names to avatars.
func (c *Client) WorkspaceMembers(ctx context.Context, workspaceID int64) ([]Member, error) {
	var resp []Member
	url := fmt.Sprintf("/workspaces/%d/members", workspaceID)
	if err := c.get(ctx, url, &resp, true); err != nil {
		return nil, err
	}
	return resp, nil
}

// Messages retrieves one page of room history, newest first.
func (c *Client) Messages(ctx context.Context, roomID int64, page, size int) (*MessagesPage, error) {
	url := fmt.Sprintf("/chat/rooms/%d/messages?page=%d&size=%d", roomID, page, size)
	var resp MessagesPage
	if err := c.get(ctx, url, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History implements chat.HistoryLoader on top of Messages, mapping records
// to chat events. The page order (newest first) is preserved; the session
// reverses it during merge.
func (c *Client) History(ctx context.Context, roomID int64, page, size int) ([]chat.Event, error) {
	resp, err := c.Messages(ctx, roomID, page, size)
	if err != nil {
		return nil, chat.WrapError(chat.ErrorHistoryFetch, "fetch room history", err)
	}
	events := make([]chat.Event, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		events = append(events, chat.Event{
			ID:               m.ID,
			RoomID:           m.RoomID,
			SenderID:         m.SenderID,
			SenderName:       m.SenderName,
			SenderProfileURL: m.SenderProfileURL,
			Content:          m.Content,
			Kind:             chat.EventKind(m.Kind),
			Timestamp:        m.Timestamp,
		})
	}
	return events, nil
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any, requireAuth bool) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any, requireAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("http error: %s (status %d)", string(body), resp.StatusCode)
	}

	if dest != nil {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
