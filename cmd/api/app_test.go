package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/email-dispatch/internal/config"
	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"github.com/kursadbilgin/email-dispatch/internal/observability"
	"go.uber.org/zap"
)

type stubEmailService struct{}

func (stubEmailService) SendEmail(ctx context.Context, req domain.EmailRequest) (domain.Outcome, error) {
	return domain.Outcome{
		IdempotencyKey: req.IdempotencyKey,
		ProviderID:     "primary",
		MessageID:      "primary_1",
		CompletedAt:    time.Now().UTC(),
	}, nil
}

func (stubEmailService) Lookup(key string) (domain.Outcome, bool) {
	return domain.Outcome{}, false
}

func newTestApp(t *testing.T, httpLimit int) *fiber.App {
	t.Helper()

	cfg := &config.Config{
		ServiceName:           "email-dispatch-test",
		HTTPRateLimitMax:      httpLimit,
		HTTPRateLimitWindowMs: 60000,
	}
	app, err := newApp(cfg, zap.NewNop(), observability.NewMetrics(), stubEmailService{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	return app
}

func send(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func sendEmailRequest() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/email/send",
		strings.NewReader(`{"to":"user@example.com","subject":"Hi","body":"Hello","idempotencyKey":"k1"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func TestAppServesHealthAndMetrics(t *testing.T) {
	app := newTestApp(t, 10)

	resp, body := send(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("GET /health status = %d, body=%s", resp.StatusCode, string(body))
	}
	if resp.Header.Get(fiber.HeaderXRequestID) == "" {
		t.Fatal("X-Request-ID header should be set")
	}

	resp, _ = send(t, app, sendEmailRequest())
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("POST /api/email/send status = %d, want 200", resp.StatusCode)
	}

	resp, body = send(t, app, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("GET /metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "email_dispatch_http_requests_total") {
		t.Fatalf("metrics output missing http request counter:\n%s", string(body))
	}
}

func TestAppLimitsRequestsPerIP(t *testing.T) {
	app := newTestApp(t, 2)

	for i := 0; i < 2; i++ {
		resp, body := send(t, app, sendEmailRequest())
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d status = %d, body=%s", i+1, resp.StatusCode, string(body))
		}
	}

	resp, body := send(t, app, sendEmailRequest())
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429, body=%s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if envelope.Error.Code != domain.CodeRateLimitExceeded {
		t.Fatalf("error code = %q, want %q", envelope.Error.Code, domain.CodeRateLimitExceeded)
	}

	// Health checks sit outside the per-IP limit.
	resp, _ = send(t, app, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", resp.StatusCode)
	}
}
