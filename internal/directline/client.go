// Package directline implements the polling side of bot-message acquisition:
// a client for the vendor's conversation REST endpoint and the selector that
// picks the current bot message out of the returned activity log.
package directline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voicebridge/internal/domain"
)

const defaultBaseURL = "https://directline.botframework.com/v3/directline"

// ActivitySet is the response body of an activities fetch. Watermark and
// ETag are position markers the API returns; selection always works from the
// full log, so they are carried but unused.
type ActivitySet struct {
	Activities []domain.Activity `json:"activities"`
	Watermark  string            `json:"watermark,omitempty"`
	ETag       string            `json:"eTag,omitempty"`
}

// Client fetches conversation activity logs.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

// FetchActivities returns the full activity log observed so far for the
// conversation. The API has no incremental-only fetch in this version, so
// every call returns the accumulated log.
func (c *Client) FetchActivities(ctx context.Context, conversationID, token string) (*ActivitySet, error) {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(token) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	url := fmt.Sprintf("%s/conversations/%s/activities", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &domain.RemoteError{Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &domain.RemoteError{
			Status: resp.StatusCode,
			Reason: reasonForStatus(resp.StatusCode, body),
		}
	}

	var set ActivitySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, &domain.RemoteError{Reason: fmt.Sprintf("decode activities: %v", err)}
	}

	c.logger.Debug("fetched activities",
		"conversation", conversationID,
		"count", len(set.Activities),
		"watermark", set.Watermark,
	)
	return &set, nil
}

func reasonForStatus(status int, body []byte) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthorized: invalid or expired token"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "conversation not found"
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Sprintf("request failed: %s", msg)
	}
	return fmt.Sprintf("request failed with status %d", status)
}
