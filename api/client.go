package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"slotbook/models"
	"slotbook/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "slotbook/0.1"

// Client talks to the webhook backend. Every action goes through the single
// POST endpoint with the uniform request envelope; responses come back as
// {success, error?, ...} bodies.
type Client struct {
	webhookURL string
	http       *http.Client
	limiter    *rate.Limiter
	user       models.UserInfo
	logger     *zap.Logger
}

// NewClient builds a Client for one user session. perMinute bounds outbound
// RPCs client-side so a misbehaving UI loop cannot hammer the backend.
func NewClient(webhookURL string, user models.UserInfo, perMinute int, logger *zap.Logger) *Client {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Client{
		webhookURL: webhookURL,
		// No transport-level timeout; each call is bounded by its context.
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		user:    user,
		logger:  logger,
	}
}

// Do issues one action against the webhook. It returns the parsed envelope
// together with the HTTP status so the caller can classify failures. The
// request_id field is unique per call; the backend deduplicates on it.
func (c *Client) Do(ctx context.Context, action string, fields map[string]any) (models.Envelope, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Envelope{}, 0, fmt.Errorf("rate limit wait: %w", err)
	}

	body := map[string]any{
		"action":     action,
		"request_id": utils.RequestID(c.user.ID),
		"user_id":    c.user.ID,
		"user_name":  c.user.Name,
		"init_data":  c.user.InitData,
	}
	for k, v := range fields {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return models.Envelope{}, 0, fmt.Errorf("marshal request %q: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return models.Envelope{}, 0, fmt.Errorf("create request %q: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return models.Envelope{}, 0, fmt.Errorf("execute %q: %w", action, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Envelope{}, resp.StatusCode, fmt.Errorf("read %q response: %w", action, err)
	}

	c.logger.Debug("rpc call finished",
		zap.String("action", action),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		return models.Envelope{}, resp.StatusCode, &StatusError{Code: resp.StatusCode}
	}

	env, err := models.ParseEnvelope(raw)
	if err != nil {
		return models.Envelope{}, resp.StatusCode, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return env, resp.StatusCode, nil
}

// User returns the session's user identity.
func (c *Client) User() models.UserInfo {
	return c.user
}
