package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WhatsAppAPIError is a non-2xx answer from the WhatsApp gateway.
type WhatsAppAPIError struct {
	StatusCode int
	Body       string
}

func (e WhatsAppAPIError) Error() string {
	return fmt.Sprintf("whatsapp gateway error: status=%d body=%s", e.StatusCode, e.Body)
}

// Unauthorized reports a rejected gateway credential (WAHA_API_KEY).
func (e WhatsAppAPIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsUnauthorized reports whether err is a 401 from the gateway.
func IsUnauthorized(err error) bool {
	var apiErr WhatsAppAPIError
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}

// WahaClient is a thin client for the WAHA HTTP API.
type WahaClient struct {
	BaseURL string // e.g. http://waha:3000
	APIKey  string
	Session string // e.g. default
	Timeout time.Duration

	HTTPClient *http.Client
}

// SessionConfig describes the webhook the gateway should call for a session.
type SessionConfig struct {
	WebhookURL string
	Events     []string
	HMACKey    string
}

func (c WahaClient) do(ctx context.Context, method string, path string, body any) error {
	endpoint := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/") + path

	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if key := strings.TrimSpace(c.APIKey); key != "" {
		req.Header.Set("X-Api-Key", key)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return WhatsAppAPIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SendText sends a text message to chatID.
func (c WahaClient) SendText(ctx context.Context, chatID string, text string) error {
	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("chat id is required")
	}
	return c.do(ctx, http.MethodPost, "/api/sendText", map[string]any{
		"chatId":  chatID,
		"text":    text,
		"session": c.Session,
	})
}

// ConfigureSession registers the webhook (url, events and HMAC signing key)
// for the client session. A session that already exists is updated in place.
func (c WahaClient) ConfigureSession(ctx context.Context, cfg SessionConfig) error {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return fmt.Errorf("webhook url is required")
	}
	if strings.TrimSpace(cfg.HMACKey) == "" {
		return fmt.Errorf("hmac key is required")
	}

	webhook := map[string]any{
		"url":    cfg.WebhookURL,
		"events": cfg.Events,
		"hmac": map[string]any{
			"key": cfg.HMACKey,
		},
		"customHeaders": []map[string]string{
			{"name": SignatureAlgorithmHeader, "value": "sha512"},
		},
	}
	config := map[string]any{
		"webhooks": []map[string]any{webhook},
	}

	err := c.do(ctx, http.MethodPost, "/api/sessions", map[string]any{
		"name":   c.Session,
		"start":  true,
		"config": config,
	})
	var apiErr WhatsAppAPIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusConflict || apiErr.StatusCode == http.StatusUnprocessableEntity) {
		return c.do(ctx, http.MethodPut, "/api/sessions/"+url.PathEscape(c.Session), map[string]any{
			"config": config,
		})
	}
	return err
}
