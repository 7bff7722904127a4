package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSendText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sendText" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"true_55119@c.us_ABC"}`))
	}))
	defer srv.Close()

	c := WahaClient{BaseURL: srv.URL + "/", APIKey: "key", Session: "default"}
	if err := c.SendText(context.Background(), "55119@c.us", "Oi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["chatId"] != "55119@c.us" || got["text"] != "Oi" || got["session"] != "default" {
		t.Fatalf("body = %v", got)
	}
}

func TestSendTextUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Unauthorized"}`))
	}))
	defer srv.Close()

	err := WahaClient{BaseURL: srv.URL, Session: "default"}.SendText(context.Background(), "c1", "x")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestSendTextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := WahaClient{BaseURL: srv.URL}.SendText(context.Background(), "c1", "x")
	if err == nil || IsUnauthorized(err) {
		t.Fatalf("expected generic gateway error, got %v", err)
	}
}

func TestConfigureSessionUpdatesExisting(t *testing.T) {
	var calls []string
	var updated map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/sessions":
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Session 'default' already exists"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/api/sessions/default":
			_ = json.NewDecoder(r.Body).Decode(&updated)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := WahaClient{BaseURL: srv.URL, Session: "default"}
	err := c.ConfigureSession(context.Background(), SessionConfig{
		WebhookURL: "https://bot.example.com/api/webhook",
		Events:     []string{"message"},
		HMACKey:    "s3cret",
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("calls = %v", calls)
	}
	cfg, _ := updated["config"].(map[string]any)
	hooks, _ := cfg["webhooks"].([]any)
	if len(hooks) != 1 {
		t.Fatalf("webhooks = %v", updated)
	}
	hook := hooks[0].(map[string]any)
	if hook["url"] != "https://bot.example.com/api/webhook" {
		t.Fatalf("url = %v", hook["url"])
	}
	if hmac, _ := hook["hmac"].(map[string]any); hmac["key"] != "s3cret" {
		t.Fatalf("hmac = %v", hook["hmac"])
	}
}

func TestConfigureSessionRequiresKey(t *testing.T) {
	err := WahaClient{BaseURL: "http://unused"}.ConfigureSession(context.Background(), SessionConfig{WebhookURL: "http://x"})
	if err == nil {
		t.Fatalf("expected error without hmac key")
	}
}
