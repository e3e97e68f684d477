package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

type APIClient struct {
	serverURL  string
	token      string
	httpClient *http.Client
}

type AuthResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	ExpiresAt string `json:"expires_at"`
}

type ConnectionResponse struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id"`
	RecipientID string `json:"recipient_id"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type MessageResponse struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
	SentAt     string `json:"sent_at"`
}

type apiError struct {
	Error string `json:"error"`
}

func NewAPIClient(serverURL string) *APIClient {
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
	return &APIClient{
		serverURL: serverURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *APIClient) Register(ctx context.Context, username, password string) (*AuthResponse, error) {
	return c.authRequest(ctx, "/auth/register", username, password)
}

func (c *APIClient) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	return c.authRequest(ctx, "/auth/login", username, password)
}

func (c *APIClient) authRequest(ctx context.Context, path, username, password string) (*AuthResponse, error) {
	body := map[string]string{"username": username, "password": password}
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *APIClient) RequestConnection(ctx context.Context, recipientID string) (*ConnectionResponse, error) {
	var resp ConnectionResponse
	err := c.doJSON(ctx, http.MethodPost, "/connections", map[string]string{"recipient_id": recipientID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) RespondConnection(ctx context.Context, id string, accept bool) (*ConnectionResponse, error) {
	var resp ConnectionResponse
	err := c.doJSON(ctx, http.MethodPost, "/connections/respond", map[string]any{"id": id, "accept": accept}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) Connections(ctx context.Context) ([]string, error) {
	var resp struct {
		Connections []string `json:"connections"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/connections", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Connections, nil
}

func (c *APIClient) PendingConnections(ctx context.Context) ([]ConnectionResponse, error) {
	var resp struct {
		Pending []ConnectionResponse `json:"pending"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/connections/pending", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pending, nil
}

// SendMessage is the REST fallback used when the live channel is down.
func (c *APIClient) SendMessage(ctx context.Context, receiverID, content string) (*MessageResponse, error) {
	var resp MessageResponse
	err := c.doJSON(ctx, http.MethodPost, "/messages/send", map[string]string{
		"receiver_id": receiverID,
		"content":     content,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *APIClient) Conversation(ctx context.Context, otherID string, skip, take int) ([]MessageResponse, error) {
	q := url.Values{}
	q.Set("user_id", otherID)
	q.Set("skip", strconv.Itoa(skip))
	q.Set("take", strconv.Itoa(take))
	var resp struct {
		Messages []MessageResponse `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/messages/conversation?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *APIClient) Conversations(ctx context.Context) ([]string, error) {
	var resp struct {
		Conversations []string `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *APIClient) Presence(ctx context.Context) (map[string]bool, error) {
	var resp struct {
		Statuses map[string]bool `json:"statuses"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/presence", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Statuses, nil
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, body, dst any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if dst == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
