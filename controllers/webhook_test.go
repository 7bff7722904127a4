package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"zapdesk/config"
	"zapdesk/controllers"
	"zapdesk/db"
	"zapdesk/models"
	"zapdesk/router"
	"zapdesk/session"
	"zapdesk/store"
	"zapdesk/tools"
	"zapdesk/workers"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	testSecret = "s3cret"
	testAdmin  = "admin-token"
)

type nopSender struct {
	mu   sync.Mutex
	sent int
}

func (n *nopSender) SendText(ctx context.Context, chatID, text string) error {
	n.mu.Lock()
	n.sent++
	n.mu.Unlock()
	return nil
}

type fixedStatus workers.BootstrapStatus

func (f fixedStatus) Status() workers.BootstrapStatus { return workers.BootstrapStatus(f) }

type testEnv struct {
	engine   *gin.Engine
	store    *store.Store
	mr       *miniredis.Miniredis
	services *controllers.Services
}

type envOption func(*controllers.Services, **db.Ledger)

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	st := store.New(rdb, logger)
	services := &controllers.Services{
		Store:         st,
		Machine:       session.NewMachine(st, &nopSender{}, session.Options{SessionTTL: time.Hour, HoldingReply: true}, logger),
		Bootstrap:     fixedStatus(workers.BootstrapReady),
		WebhookSecret: testSecret,
		DedupTTL:      time.Hour,
		Logger:        logger,
	}
	var ledger *db.Ledger
	for _, o := range opts {
		o(services, &ledger)
	}

	cfg := &config.Configuration{AdminToken: testAdmin, CORSAllowOrigin: "*"}
	engine := gin.New()
	router.Initialize(engine, cfg, services, ledger, logger)

	return &testEnv{engine: engine, store: st, mr: mr, services: services}
}

func webhookBody(chatID, msgID, text string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event":   "message",
		"session": "default",
		"payload": map[string]any{"id": msgID, "from": chatID, "body": text, "fromMe": false},
	})
	return b
}

func (e *testEnv) post(body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(tools.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postSigned(body []byte) *httptest.ResponseRecorder {
	return e.post(body, tools.SignSHA512(testSecret, body))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestWebhookAdmitsFirstMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	w := e.postSigned(webhookBody("55119", "m1", "Oi"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["status"] != "success" || out["step"] != "INICIO" {
		t.Fatalf("body = %v", out)
	}

	if n, _ := e.store.Len(ctx); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
	state, _ := e.store.GetState(ctx, "55119")
	if state.Step != models.StepInQueue {
		t.Fatalf("step = %s", state.Step)
	}
	history, _ := e.store.FullHistory(ctx, "55119")
	if len(history) != 1 || history[0].Sender != models.SenderUser || history[0].Text != "Oi" {
		t.Fatalf("history = %+v", history)
	}
}

func TestWebhookReplayIsDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	body := webhookBody("55119", "m1", "Oi")

	e.postSigned(body)
	w := e.postSigned(body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := decode(t, w)
	if out["status"] != "duplicate" || out["message_id"] != "m1" {
		t.Fatalf("body = %v", out)
	}
	if n, _ := e.store.Len(ctx); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
	history, _ := e.store.FullHistory(ctx, "55119")
	if len(history) != 1 {
		t.Fatalf("history grew on replay: %+v", history)
	}
}

func TestWebhookSecondMessageWhileQueued(t *testing.T) {
	e := newEnv(t)

	e.postSigned(webhookBody("55119", "m1", "Oi"))
	w := e.postSigned(webhookBody("55119", "m2", "Alô?"))
	out := decode(t, w)
	if out["status"] != "success" || out["step"] != "IN_QUEUE" {
		t.Fatalf("body = %v", out)
	}
	if n, _ := e.store.Len(context.Background()); n != 1 {
		t.Fatalf("chat must be queued once, length = %d", n)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	e := newEnv(t)

	w := e.post(webhookBody("55119", "m1", "Oi"), "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	if _, ok := decode(t, w)["error"]; !ok {
		t.Fatalf("expected error body, got %s", w.Body.String())
	}
	if keys := e.mr.Keys(); len(keys) != 0 {
		t.Fatalf("store mutated: %v", keys)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	body := webhookBody("55119", "m1", "Oi")

	w := e.post(body, tools.SignSHA512("other-secret", body))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	if keys := e.mr.Keys(); len(keys) != 0 {
		t.Fatalf("store mutated: %v", keys)
	}
}

func TestWebhookRejectsWhenSecretUnset(t *testing.T) {
	e := newEnv(t, func(s *controllers.Services, _ **db.Ledger) { s.WebhookSecret = "" })
	body := webhookBody("55119", "m1", "Oi")

	w := e.post(body, tools.SignSHA512("", body))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestWebhookMalformedJSON(t *testing.T) {
	e := newEnv(t)

	w := e.postSigned([]byte(`{"payload":`))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestWebhookNoMessage(t *testing.T) {
	e := newEnv(t)

	cases := map[string][]byte{
		"empty body": webhookBody("55119", "m1", "   "),
		"no sender":  webhookBody("", "m1", "Oi"),
		"from me":    []byte(`{"payload":{"id":"m9","from":"55119","body":"Oi","fromMe":true}}`),
	}
	for name, body := range cases {
		w := e.postSigned(body)
		if w.Code != http.StatusOK || decode(t, w)["status"] != "no_message" {
			t.Fatalf("%s: status = %d body = %s", name, w.Code, w.Body.String())
		}
	}
	if keys := e.mr.Keys(); len(keys) != 0 {
		t.Fatalf("store mutated: %v", keys)
	}
}

func TestWebhookMissingMessageID(t *testing.T) {
	e := newEnv(t)

	w := e.postSigned(webhookBody("55119", "", "Oi"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

type failingStepStore struct {
	*store.Store
}

func (failingStepStore) SetStep(ctx context.Context, chatID string, step models.Step) error {
	return errors.New("redis: i/o timeout")
}

func TestWebhookRetryAfterPartialAdmissionIsDuplicate(t *testing.T) {
	e := newEnv(t)
	// Enqueue succeeds, the step change fails: the chat is already queued.
	e.services.Machine = session.NewMachine(failingStepStore{e.store}, &nopSender{}, session.Options{SessionTTL: time.Hour}, nil)
	ctx := context.Background()
	body := webhookBody("55119", "m1", "Oi")

	w := e.postSigned(body)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if _, ok := decode(t, w)["error"]; !ok {
		t.Fatalf("expected error body, got %s", w.Body.String())
	}

	w = e.postSigned(body)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "duplicate" {
		t.Fatalf("retry: status = %d body = %s", w.Code, w.Body.String())
	}
	history, _ := e.store.FullHistory(ctx, "55119")
	if len(history) != 1 {
		t.Fatalf("history = %+v, want one entry", history)
	}
	if n, _ := e.store.Len(ctx); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
}

func TestWebhookRetryAfterStateReadFailureIsDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	body := webhookBody("55119", "m1", "Oi")

	// A string under the session key makes HGETALL fail with WRONGTYPE.
	e.mr.Set("session:55119", "corrupt")
	if w := e.postSigned(body); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	e.mr.Del("session:55119")

	w := e.postSigned(body)
	if decode(t, w)["status"] != "duplicate" {
		t.Fatalf("retry: body = %s", w.Body.String())
	}
	history, _ := e.store.FullHistory(ctx, "55119")
	if len(history) != 1 {
		t.Fatalf("history = %+v, want one entry", history)
	}
}

func TestWebhookRetryAfterHistoryFailureIsProcessed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	body := webhookBody("55119", "m1", "Oi")

	e.mr.Set("history:55119", "corrupt")
	if w := e.postSigned(body); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	e.mr.Del("history:55119")

	w := e.postSigned(body)
	if decode(t, w)["status"] != "success" {
		t.Fatalf("retry: body = %s", w.Body.String())
	}
	history, _ := e.store.FullHistory(ctx, "55119")
	if len(history) != 1 {
		t.Fatalf("history = %+v, want one entry", history)
	}
	if n, _ := e.store.Len(ctx); n != 1 {
		t.Fatalf("queue length = %d, want 1", n)
	}
}

func TestWebhookConcurrentDeliveriesAdmitOnce(t *testing.T) {
	e := newEnv(t)
	body := webhookBody("55119", "m1", "Oi")

	var wg sync.WaitGroup
	var mu sync.Mutex
	statuses := map[string]int{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var out map[string]any
			_ = json.Unmarshal(e.postSigned(body).Body.Bytes(), &out)
			mu.Lock()
			statuses[fmt.Sprint(out["status"])]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if statuses["success"] != 1 || statuses["duplicate"] != 7 {
		t.Fatalf("statuses = %v", statuses)
	}
	if n, _ := e.store.Len(context.Background()); n != 1 {
		t.Fatalf("queue length = %d", n)
	}
}
