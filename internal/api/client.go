// Package api is the REST client for the chatroom backend.
package api

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
	"strings"
	"time"

	"github.com/meerkat-chat/meerkat/internal/roster"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 20 * time.Second

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError represents a non-2xx response from the backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

// Is lets callers match 404s with errors.Is(err, ErrNotFound).
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type responseEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Client talks to the chatroom REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient constructs a client. A zero timeout uses DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    normalized,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// NormalizeBaseURL trims the base URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("api url must include scheme (http://)")
	}
	return strings.TrimRight(value, "/"), nil
}

// Chatroom fetches chatroom metadata.
func (c *Client) Chatroom(ctx context.Context, chatroomID int64) (Chatroom, error) {
	var resp Chatroom
	if err := c.doJSON(ctx, http.MethodGet, "/chatroom/"+itoa(chatroomID), nil, nil, &resp); err != nil {
		return Chatroom{}, err
	}
	return resp, nil
}

// Roster fetches the participant list of a chatroom.
func (c *Client) Roster(ctx context.Context, chatroomID int64) ([]roster.User, error) {
	var resp []roster.User
	if err := c.doJSON(ctx, http.MethodGet, "/chatroom/getAllUsersInfo/"+itoa(chatroomID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Commander returns the user id of the chatroom's top-ranked participant.
func (c *Client) Commander(ctx context.Context, chatroomID int64) (int64, error) {
	var resp Commander
	if err := c.doJSON(ctx, http.MethodGet, "/chatroom/commander/"+itoa(chatroomID), nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.UserID, nil
}

// History fetches one page of messages older than before. An empty before
// requests the newest page.
func (c *Client) History(ctx context.Context, chatroomID int64, before string, limit int) (HistoryPage, error) {
	query := url.Values{}
	if before != "" {
		query.Set("before", before)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp HistoryPage
	if err := c.doJSON(ctx, http.MethodGet, "/chatroom/messages/"+itoa(chatroomID), query, nil, &resp); err != nil {
		return HistoryPage{}, err
	}
	return resp, nil
}

// SubmitAllClearResponse files the viewer's report for an all-clear message.
func (c *Client) SubmitAllClearResponse(ctx context.Context, req AllClearResponseRequest) error {
	return c.doJSON(ctx, http.MethodPut, "/allclear/response/create", nil, req, nil)
}

// Unread lists the participants that have not read messageID.
func (c *Client) Unread(ctx context.Context, messageID string) ([]roster.User, error) {
	var resp []roster.User
	if err := c.doJSON(ctx, http.MethodGet, "/messages/unread/"+url.PathEscape(messageID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// SetRecentRead marks messageID as the viewer's most recent read message.
func (c *Client) SetRecentRead(ctx context.Context, req SetRecentReadRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/messages/setRecentRead", nil, req, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload apiErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	var envelope responseEnvelope
	if err := json.Unmarshal(respData, &envelope); err != nil {
		return fmt.Errorf("decode response envelope: %w", err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, respBody); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	endpoint := base.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
