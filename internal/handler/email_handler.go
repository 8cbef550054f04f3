package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/email-dispatch/internal/domain"
	"github.com/kursadbilgin/email-dispatch/internal/transport"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type EmailService interface {
	SendEmail(ctx context.Context, req domain.EmailRequest) (domain.Outcome, error)
	Lookup(key string) (domain.Outcome, bool)
}

// AttemptHistory lists the recorded provider invocations for a key.
type AttemptHistory interface {
	ListByIdempotencyKey(ctx context.Context, key string) ([]domain.DeliveryAttempt, error)
}

type EmailHandler struct {
	service    EmailService
	history    AttemptHistory
	requireKey bool
	newKey     func() string
}

// NewEmailHandler builds the email handler. When requireKey is false a
// request without an idempotency key is assigned a random one, so it is
// never deduplicated. history may be nil when attempts are not recorded.
func NewEmailHandler(service EmailService, history AttemptHistory, requireKey bool) (*EmailHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("email service is required")
	}
	return &EmailHandler{
		service:    service,
		history:    history,
		requireKey: requireKey,
		newKey:     uuid.NewString,
	}, nil
}

func RegisterEmailRoutes(router fiber.Router, service EmailService, history AttemptHistory, requireKey bool) error {
	h, err := NewEmailHandler(service, history, requireKey)
	if err != nil {
		return err
	}

	email := router.Group("/email")
	email.Post("/send", h.SendEmail)
	email.Get("/status/:key", h.GetStatus)

	return nil
}

type sendEmailRequest struct {
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type sendEmailResponse struct {
	Message   string `json:"message"`
	MessageID string `json:"messageId"`
	Provider  string `json:"provider"`
}

type statusResponse struct {
	IdempotencyKey string            `json:"idempotencyKey"`
	Status         string            `json:"status"`
	Provider       string            `json:"provider,omitempty"`
	MessageID      string            `json:"messageId,omitempty"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	Attempts       []attemptResponse `json:"attempts,omitempty"`
}

type attemptResponse struct {
	Provider   string    `json:"provider"`
	Round      int       `json:"round"`
	Invocation int       `json:"invocation"`
	Success    bool      `json:"success"`
	Transient  bool      `json:"transient"`
	StatusCode *int      `json:"statusCode,omitempty"`
	Error      *string   `json:"error,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h *EmailHandler) SendEmail(c *fiber.Ctx) error {
	var req sendEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	key, err := h.idempotencyKey(c, req)
	if err != nil {
		return err
	}

	outcome, err := h.service.SendEmail(c.UserContext(), domain.EmailRequest{
		To:             req.To,
		Subject:        req.Subject,
		Body:           req.Body,
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}

	c.Set(HeaderIdempotencyKey, outcome.IdempotencyKey)
	return c.Status(fiber.StatusOK).JSON(sendEmailResponse{
		Message:   "Email sent successfully",
		MessageID: outcome.MessageID,
		Provider:  outcome.ProviderID,
	})
}

// GetStatus reports the cached outcome for a key along with its recorded
// attempts. A key that was attempted but never delivered reports FAILED.
func (h *EmailHandler) GetStatus(c *fiber.Ctx) error {
	key := strings.TrimSpace(c.Params("key"))
	outcome, found := h.service.Lookup(key)

	var attempts []domain.DeliveryAttempt
	if h.history != nil && key != "" {
		var err error
		attempts, err = h.history.ListByIdempotencyKey(c.UserContext(), key)
		if err != nil {
			return err
		}
	}
	if !found && len(attempts) == 0 {
		return fmt.Errorf("%w: no dispatch recorded for key %q", domain.ErrNotFound, key)
	}

	resp := statusResponse{
		IdempotencyKey: key,
		Status:         domain.DeliveryStatusFailed.String(),
		Attempts:       toAttemptResponses(attempts),
	}
	if found {
		completedAt := outcome.CompletedAt
		resp.IdempotencyKey = outcome.IdempotencyKey
		resp.Status = domain.DeliveryStatusSent.String()
		resp.Provider = outcome.ProviderID
		resp.MessageID = outcome.MessageID
		resp.CompletedAt = &completedAt
	} else if a, ok := successfulAttempt(attempts); ok {
		resp.Status = domain.DeliveryStatusSent.String()
		resp.Provider = a.Provider
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func successfulAttempt(attempts []domain.DeliveryAttempt) (domain.DeliveryAttempt, bool) {
	for _, a := range attempts {
		if a.Success {
			return a, true
		}
	}
	return domain.DeliveryAttempt{}, false
}

func toAttemptResponses(attempts []domain.DeliveryAttempt) []attemptResponse {
	if len(attempts) == 0 {
		return nil
	}

	out := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, attemptResponse{
			Provider:   a.Provider,
			Round:      a.Round,
			Invocation: a.Invocation,
			Success:    a.Success,
			Transient:  a.Transient,
			StatusCode: a.StatusCode,
			Error:      a.Error,
			DurationMs: a.DurationMs,
			CreatedAt:  a.CreatedAt,
		})
	}
	return out
}

func (h *EmailHandler) idempotencyKey(c *fiber.Ctx, req sendEmailRequest) (string, error) {
	header := strings.TrimSpace(c.Get(HeaderIdempotencyKey))
	body := strings.TrimSpace(req.IdempotencyKey)

	switch {
	case header != "" && body != "" && header != body:
		return "", transport.WithDetails(
			fmt.Errorf("%w: idempotency key header and body field differ", domain.ErrValidation),
			fiber.Map{"header": header, "body": body},
		)
	case header != "":
		return header, nil
	case body != "":
		return body, nil
	case h.requireKey:
		return "", fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	default:
		return h.newKey(), nil
	}
}
