package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pdfshrink/pdfshrink/app/controllers"
	"github.com/pdfshrink/pdfshrink/internal/pkg/metrics/counter"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhook"
	"github.com/pdfshrink/pdfshrink/internal/pkg/webhooklog"
)

const routerTestSecret = "whsec_router"

type stack struct {
	app    *fiber.App
	logger *webhooklog.Logger
	calls  atomic.Int32
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{}

	store, err := webhooklog.NewStore(t.TempDir())
	require.NoError(t, err)
	s.logger = webhooklog.NewLogger(store, 64)
	t.Cleanup(s.logger.Close)

	cfg := webhook.DefaultConfig()
	cfg.Secret = routerTestSecret
	cfg.Production = false

	handler := webhook.EventHandlerFunc(func(ctx context.Context, evt *webhook.Event) error {
		s.calls.Add(1)
		if webhook.CorrelationIDFromContext(ctx) == "" {
			t.Error("handler context has no correlation id")
		}
		if evt.Type == "fail" {
			return webhook.NewHandlerError(fiber.StatusUnprocessableEntity, "invalid_payload", nil)
		}
		return nil
	})

	s.app = fiber.New()
	InstallRouter(s.app, Dependencies{
		Pipeline:   webhook.NewPipeline(cfg),
		Logger:     s.logger,
		Controller: controllers.NewWebhookController(handler, store, counter.New(nil)),
		OpsUsers:   map[string]string{"ops": "secret"},
	})
	return s
}

func (s *stack) post(t *testing.T, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(webhook.DefaultSignatureHeader, webhook.SignatureHeader(routerTestSecret, time.Now().Unix(), []byte(body)))
	return s.do(t, req)
}

func (s *stack) get(t *testing.T, path string, auth bool) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth {
		req.Header.Set(fiber.HeaderAuthorization, "Basic "+base64.StdEncoding.EncodeToString([]byte("ops:secret")))
	}
	return s.do(t, req)
}

func (s *stack) do(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestWebhookRouter_EndToEnd(t *testing.T) {
	s := newStack(t)
	body := `{"id":"evt_1","type":"subscription.created","data":{}}`

	resp, out := s.post(t, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Webhook processed", out["message"])
	assert.Equal(t, "evt_1", out["eventId"])
	correlationID := resp.Header.Get(webhooklog.CorrelationHeader)
	assert.Equal(t, correlationID, out["correlationId"])

	resp, out = s.post(t, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Event already processed", out["message"])
	assert.Equal(t, int32(1), s.calls.Load())

	resp, out = s.post(t, `{"id":"evt_2","type":"fail"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_payload", out["error"])

	unsigned := httptest.NewRequest(http.MethodPost, "/webhooks/provider", strings.NewReader(body))
	unsigned.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, _ = s.do(t, unsigned)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	s.logger.Flush()

	resp, out = s.get(t, "/webhooks/logs", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(8), out["count"], "every call logs a received and a closing record")
	records := out["records"].([]any)
	first, second := records[0].(map[string]any), records[1].(map[string]any)
	assert.Equal(t, correlationID, first["correlation_id"])
	assert.Equal(t, "received", first["direction"])
	assert.Equal(t, "response", second["direction"])
	assert.Equal(t, "evt_1", second["event_id"])
	last := records[7].(map[string]any)
	assert.Equal(t, "error", last["direction"])
	assert.Equal(t, float64(400), last["status_code"])

	resp, out = s.get(t, "/webhooks/stats", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	outcomes := out["outcomes"].(map[string]any)
	assert.Equal(t, float64(1), outcomes[counter.OutcomeProcessed])
	assert.Equal(t, float64(1), outcomes[counter.OutcomeDuplicate])
	assert.Equal(t, float64(1), outcomes["rejected_400"])
	assert.Equal(t, float64(1), outcomes["rejected_422"])
	assert.NotContains(t, outcomes, counter.OutcomeFailed)
}

func TestWebhookRouter_Health(t *testing.T) {
	s := newStack(t)
	resp, out := s.get(t, "/webhooks/health", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["success"])
	assert.NotEmpty(t, out["timestamp"])
}

func TestWebhookRouter_OpsRoutesRequireAuth(t *testing.T) {
	s := newStack(t)
	for _, path := range []string{"/webhooks/logs", "/webhooks/stats"} {
		resp, _ := s.get(t, path, false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp, out := s.get(t, "/webhooks/logs?date=yesterday", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_date", out["error"])
}

func TestOpsAuthorizer(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	authorize := OpsAuthorizer(map[string]string{
		"ops":    "secret",
		"hashed": string(hash),
		"empty":  "",
	})
	assert.True(t, authorize("ops", "secret"))
	assert.False(t, authorize("ops", "Secret"))
	assert.True(t, authorize("hashed", "hunter2"))
	assert.False(t, authorize("hashed", string(hash)))
	assert.False(t, authorize("empty", ""))
	assert.False(t, authorize("nobody", "secret"))
}
