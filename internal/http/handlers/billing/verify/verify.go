// Package verify implements the HTTP handler for purchase receipt
// verification.
package verify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/http/middlewarectx"
	"github.com/aistudyjp/entitlement-service/internal/http/response"
	"github.com/aistudyjp/entitlement-service/internal/lib/sl"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

// Request carries the receipt to verify.
type Request struct {
	Platform string `json:"platform" validate:"required,oneof=ios android"`
	Receipt  string `json:"receipt" validate:"required"`
}

// Service describes the verification contract.
type Service interface {
	VerifyReceipt(ctx context.Context, userUID, platform, receipt string) (*models.Entitlement, error)
}

// Handler handles receipt verification requests.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New creates a Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Verify a purchase receipt
// @Description Validates a store receipt and reconciles the entitlement with the provider's verdict.
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body Request true "Receipt data"
// @Success 200 {object} response.Response "Verification result"
// @Failure 400 {object} response.ErrorResponse "Malformed or expired receipt"
// @Failure 401 {object} response.ErrorResponse "User not authorized"
// @Failure 503 {object} response.ErrorResponse "Provider unavailable"
// @Security BearerAuth
// @Router /purchases/verify [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.billing.verify"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userUID, ok := r.Context().Value(middlewarectx.UserUID).(string)
	if !ok || userUID == "" {
		log.Error("missing user uid in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("user not authorized"))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	ent, err := h.service.VerifyReceipt(r.Context(), userUID, req.Platform, req.Receipt)
	if err != nil {
		log.Error("receipt verification failed", sl.Err(err))
		w.WriteHeader(errs.HTTPStatus(err))
		render.JSON(w, r, response.Error(errs.Message(err)))
		return
	}

	log.Info("receipt verified",
		slog.String("user_uid", userUID),
		slog.String("status", string(ent.Status)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"valid":  true,
		"status": ent.Status,
	}))
}
