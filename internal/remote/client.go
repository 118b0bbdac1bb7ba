// Package remote is the HTTP client for the Socially backend. Only the
// logical request/response contracts live here; callers never see wire
// details. Errors split two ways: terminal RejectedError for service-side
// refusals, plain errors for everything transient.
package remote

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

// TokenFunc returns the bearer token for a request. A nil TokenFunc sends
// unauthenticated requests.
type TokenFunc func(ctx context.Context) (string, error)

// Client talks to the remote service. All calls are bounded by the HTTP
// client timeout; a timeout surfaces as a transient error.
type Client struct {
	BaseURL string
	Token   TokenFunc
	HTTP    *http.Client
}

// NewClient creates a client with the given base URL and request timeout.
func NewClient(baseURL string, timeout time.Duration, tok TokenFunc) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   tok,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// apiEnvelope captures the error fields every endpoint may return alongside
// its payload.
type apiEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s %s: server status %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &RejectedError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}

	// The service reports rejections as 200 bodies carrying an error field.
	var env apiEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error != "" {
		return &RejectedError{Reason: env.Error}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Ping probes reachability of the remote service. Any HTTP response counts
// as reachable; only transport failures count as offline.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.BaseURL+"/presence.php", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// SendMessage uploads one message. The server assigns the message id and
// may rewrite the media reference to a canonical URL.
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResponse, error) {
	var out SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/messages.php", nil, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("send message: server did not accept")
	}
	return &out, nil
}

// FetchMessages returns the full canonical state of the chat between two
// users (no cursor; the reference service always returns the whole scope).
func (c *Client) FetchMessages(ctx context.Context, user1, user2 string) (*MessagesResponse, error) {
	q := url.Values{"user1": {user1}, "user2": {user2}}
	var out MessagesResponse
	if err := c.do(ctx, http.MethodGet, "/messages.php", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EditMessage rewrites a message's text. The service rejects edits once a
// fixed window after creation has elapsed; that surfaces as RejectedError.
func (c *Client) EditMessage(ctx context.Context, serverID int64, text, senderID string) error {
	body := map[string]any{"id": serverID, "text": text, "senderId": senderID}
	return c.do(ctx, http.MethodPut, "/messages.php", nil, body, nil)
}

// DeleteMessage tombstones a message, subject to the same window as edits.
func (c *Client) DeleteMessage(ctx context.Context, serverID int64, senderID string) error {
	body := map[string]any{"id": serverID, "senderId": senderID}
	return c.do(ctx, http.MethodDelete, "/messages.php", nil, body, nil)
}

// ToggleVanish flips a chat's vanish mode flag.
func (c *Client) ToggleVanish(ctx context.Context, user1, user2 string, enable bool) error {
	body := map[string]any{"action": "toggle_vanish", "user1": user1, "user2": user2, "enable": enable}
	return c.do(ctx, http.MethodPost, "/messages.php", nil, body, nil)
}

// FetchChats returns the chat summaries for a user.
func (c *Client) FetchChats(ctx context.Context, userID string) ([]ChatDTO, error) {
	q := url.Values{"userId": {userID}}
	var out []ChatDTO
	if err := c.do(ctx, http.MethodGet, "/chats.php", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchPosts returns the feed for a user, like flags included.
func (c *Client) FetchPosts(ctx context.Context, userID string) ([]PostDTO, error) {
	q := url.Values{"userId": {userID}}
	var out []PostDTO
	if err := c.do(ctx, http.MethodGet, "/posts.php", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadPost uploads one post.
func (c *Client) UploadPost(ctx context.Context, req *UploadPostRequest) (*UploadResponse, error) {
	var out UploadResponse
	if err := c.do(ctx, http.MethodPost, "/posts.php", nil, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("upload post: server did not accept")
	}
	return &out, nil
}

// ToggleLike sets the caller's like state on a post and returns the
// authoritative aggregate.
func (c *Client) ToggleLike(ctx context.Context, postID, userID string, like bool) (*LikeResponse, error) {
	body := map[string]any{"postId": postID, "userId": userID, "like": like}
	var out LikeResponse
	if err := c.do(ctx, http.MethodPost, "/likes.php", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchComments returns all comments on a post.
func (c *Client) FetchComments(ctx context.Context, postID string) ([]CommentDTO, error) {
	q := url.Values{"postId": {postID}}
	var out []CommentDTO
	if err := c.do(ctx, http.MethodGet, "/comments.php", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddComment uploads one comment.
func (c *Client) AddComment(ctx context.Context, req *AddCommentRequest) (*UploadResponse, error) {
	var out UploadResponse
	if err := c.do(ctx, http.MethodPost, "/comments.php", nil, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("add comment: server did not accept")
	}
	return &out, nil
}

// FetchStories returns all active stories.
func (c *Client) FetchStories(ctx context.Context) ([]StoryDTO, error) {
	var out []StoryDTO
	if err := c.do(ctx, http.MethodGet, "/stories.php", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadStory uploads one story.
func (c *Client) UploadStory(ctx context.Context, req *UploadStoryRequest) (*UploadResponse, error) {
	var out UploadResponse
	if err := c.do(ctx, http.MethodPost, "/stories.php", nil, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("upload story: server did not accept")
	}
	return &out, nil
}

// Heartbeat reports the local user as live.
func (c *Client) Heartbeat(ctx context.Context, userID string) error {
	body := map[string]any{"action": "heartbeat", "userId": userID}
	return c.do(ctx, http.MethodPost, "/presence.php", nil, body, nil)
}

// GoOffline reports the local user as explicitly offline, flipping peers
// immediately instead of waiting out the TTL.
func (c *Client) GoOffline(ctx context.Context, userID string) error {
	body := map[string]any{"action": "go_offline", "userId": userID}
	return c.do(ctx, http.MethodPost, "/presence.php", nil, body, nil)
}

// Statuses fetches presence for a batch of users in one request.
func (c *Client) Statuses(ctx context.Context, userIDs []string) ([]PresenceStatus, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	q := url.Values{
		"action":  {"get_status"},
		"userIds": {strings.Join(userIDs, ",")},
	}
	var out statusesResponse
	if err := c.do(ctx, http.MethodGet, "/presence.php", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Statuses, nil
}
