// Package webhook implements the HTTP handler for payment provider
// webhook events.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/aistudyjp/entitlement-service/internal/http/response"
	"github.com/aistudyjp/entitlement-service/internal/lib/sl"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

// Service describes the webhook processing contract.
type Service interface {
	ProcessWebhookEvent(ctx context.Context, event models.WebhookEvent) error
}

// Handler handles provider webhook deliveries.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string
}

// New creates a Handler.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

// verifySignature checks the X-Api-Signature header against the body.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expectedSig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expectedSig), []byte(signature))
}

// ServeHTTP godoc
// @Summary Process a payment provider webhook
// @Description Applies a signed provider event to the local entitlement. Unknown events are acknowledged and skipped.
// @Tags Billing
// @Accept json
// @Produce json
// @Param X-Api-Signature header string true "HMAC signature of the body"
// @Success 200 {object} response.Response "Event processed"
// @Failure 400 {object} response.ErrorResponse "Invalid JSON"
// @Failure 401 {object} response.ErrorResponse "Invalid signature"
// @Failure 503 {object} response.ErrorResponse "Storage unavailable"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.webhook"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Error("failed to read request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	signature := r.Header.Get("X-Api-Signature")
	if !h.verifySignature(body, signature) {
		log.Error("invalid webhook signature")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	var event models.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Error("failed to decode webhook payload", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	log.Info("webhook event received", slog.String("event", event.Event))

	if err := h.service.ProcessWebhookEvent(r.Context(), event); err != nil {
		log.Error("failed to process webhook event", sl.Err(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("failed to process event"))
		return
	}

	render.JSON(w, r, response.OK())
}
