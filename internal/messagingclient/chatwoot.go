// Package messagingclient sends and receives WhatsApp messages through
// Chatwoot, the conversation-inbox vendor. Transient failures are
// retried with backoff; endpoints and payload shapes follow Chatwoot's
// REST API.
package messagingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultUserAgent = "atrevete-orchestrator/0.1"

// Config controls how the Chatwoot client behaves.
type Config struct {
	BaseURL    string // e.g. https://app.chatwoot.com
	APIToken   string
	AccountID  int
	InboxID    int
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client wraps the Chatwoot conversation/contact/message endpoints this
// system needs to deliver replies and tag conversations.
type Client struct {
	baseURL    string
	apiToken   string
	accountID  int
	inboxID    int
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// New builds a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, errors.New("messagingclient: API token is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("messagingclient: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiToken:   cfg.APIToken,
		accountID:  cfg.AccountID,
		inboxID:    cfg.InboxID,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

// SendMessage finds-or-creates a contact and conversation for
// customerPhone when conversationID is empty, then posts an outgoing
// message to it. Returns the conversation ID the message was posted to.
func (c *Client) SendMessage(ctx context.Context, customerPhone, customerName, conversationID, message string) (string, error) {
	convID := conversationID
	if convID == "" {
		var err error
		convID, err = c.findOrCreateConversation(ctx, customerPhone, customerName)
		if err != nil {
			return "", err
		}
	}

	body, err := json.Marshal(map[string]any{
		"content":      message,
		"message_type": "outgoing",
		"private":      false,
	})
	if err != nil {
		return "", fmt.Errorf("messagingclient: marshal message body: %w", err)
	}

	path := fmt.Sprintf("/api/v1/accounts/%d/conversations/%s/messages", c.accountID, convID)
	if _, err := c.invoke(ctx, http.MethodPost, path, body); err != nil {
		return "", err
	}
	return convID, nil
}

// SendTemplateMessage sends a pre-approved WhatsApp template, required for
// any message sent outside the 24-hour customer-initiated window — the
// confirmation scheduler's confirmation, auto-cancellation and reminder
// jobs are its callers. bodyParams
// is positional: key "1" fills the template's first placeholder, "2" the
// second, and so on.
func (c *Client) SendTemplateMessage(ctx context.Context, phone, templateName string, bodyParams map[string]string, language, category, conversationID string) error {
	if language == "" {
		language = "es"
	}
	if category == "" {
		category = "UTILITY"
	}
	params := make([]string, len(bodyParams))
	for i := range params {
		params[i] = bodyParams[strconv.Itoa(i+1)]
	}

	body, err := json.Marshal(map[string]any{
		"content":      "",
		"message_type": "outgoing",
		"private":      false,
		"template_params": map[string]any{
			"name":           templateName,
			"category":       category,
			"language":       language,
			"processed_params": params,
		},
	})
	if err != nil {
		return fmt.Errorf("messagingclient: marshal template body: %w", err)
	}

	convID := conversationID
	if convID == "" {
		var err error
		convID, err = c.findOrCreateConversation(ctx, phone, "")
		if err != nil {
			return err
		}
	}

	path := fmt.Sprintf("/api/v1/accounts/%d/conversations/%s/messages", c.accountID, convID)
	_, err = c.invoke(ctx, http.MethodPost, path, body)
	return err
}

// UpdateConversationAttributes sets custom attributes on a conversation,
// used to tag bookings and escalations for the agent dashboard.
func (c *Client) UpdateConversationAttributes(ctx context.Context, conversationID string, attributes map[string]any) error {
	body, err := json.Marshal(map[string]any{"custom_attributes": attributes})
	if err != nil {
		return fmt.Errorf("messagingclient: marshal attributes: %w", err)
	}
	path := fmt.Sprintf("/api/v1/accounts/%d/conversations/%s/custom_attributes", c.accountID, conversationID)
	_, err = c.invoke(ctx, http.MethodPost, path, body)
	return err
}

type contact struct {
	ID int `json:"id"`
}

type conversation struct {
	ID int `json:"id"`
}

func (c *Client) findOrCreateConversation(ctx context.Context, phone, name string) (string, error) {
	contactID, err := c.findOrCreateContact(ctx, phone, name)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]any{
		"source_id": phone,
		"inbox_id":  c.inboxID,
		"contact_id": contactID,
	})
	if err != nil {
		return "", fmt.Errorf("messagingclient: marshal conversation body: %w", err)
	}
	path := fmt.Sprintf("/api/v1/accounts/%d/conversations", c.accountID)
	data, err := c.invoke(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	var conv conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return "", fmt.Errorf("messagingclient: parse conversation response: %w", err)
	}
	return strconv.Itoa(conv.ID), nil
}

func (c *Client) findOrCreateContact(ctx context.Context, phone, name string) (int, error) {
	body, err := json.Marshal(map[string]any{
		"inbox_id":     c.inboxID,
		"name":         name,
		"phone_number": phone,
	})
	if err != nil {
		return 0, fmt.Errorf("messagingclient: marshal contact body: %w", err)
	}
	path := fmt.Sprintf("/api/v1/accounts/%d/contacts", c.accountID)
	data, err := c.invoke(ctx, http.MethodPost, path, body)
	if err != nil {
		return 0, err
	}
	var ct contact
	if err := json.Unmarshal(data, &ct); err != nil {
		return 0, fmt.Errorf("messagingclient: parse contact response: %w", err)
	}
	return ct.ID, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + path
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
		if err != nil {
			return nil, fmt.Errorf("messagingclient: build request: %w", err)
		}
		req.Header.Set("api_access_token", c.apiToken)
		req.Header.Set("User-Agent", defaultUserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt == c.maxRetries {
				return nil, fmt.Errorf("messagingclient: http error: %w", err)
			}
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("messagingclient: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := fmt.Errorf("messagingclient: chatwoot returned %d: %s", resp.StatusCode, string(data))
		if attempt < c.maxRetries && resp.StatusCode >= 500 {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("messagingclient: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt, status int, err error) {
	c.logger.Warn("messagingclient: retrying request", "path", path, "attempt", attempt, "status", status, "error", err)
}
