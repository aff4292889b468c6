// Package redeem implements the HTTP handler for campaign code
// redemption.
package redeem

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/http/middlewarectx"
	"github.com/aistudyjp/entitlement-service/internal/http/response"
	"github.com/aistudyjp/entitlement-service/internal/lib/sl"
)

// Request carries the redemption input.
type Request struct {
	CampaignCode string `json:"campaign_code" validate:"required"`
}

// Result is the redemption verdict. Business rejections come back with
// HTTP 200 and Valid set to false so clients branch on the error code,
// not the HTTP status.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Service describes the redemption contract.
type Service interface {
	Redeem(ctx context.Context, userUID, code string) error
}

// Handler handles redemption requests.
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

// rejectionCode maps business errors to wire error codes. Anything not
// listed here is an infrastructure failure.
func rejectionCode(err error) (string, bool) {
	switch {
	case errors.Is(err, errs.ErrInvalidCode):
		return "invalid_code", true
	case errors.Is(err, errs.ErrCodeAlreadyUsed):
		return "code_already_used", true
	case errors.Is(err, errs.ErrQuotaExhausted):
		return "quota_exhausted", true
	default:
		return "", false
	}
}

// ServeHTTP godoc
// @Summary Redeem a campaign code
// @Description Applies a campaign code to the current user's entitlement. Redeeming the same code twice returns a rejection, never a second activation.
// @Tags Campaign
// @Accept json
// @Produce json
// @Param request body Request true "Campaign code"
// @Success 200 {object} Result "Redemption verdict"
// @Failure 400 {object} response.ErrorResponse "Invalid JSON"
// @Failure 401 {object} response.ErrorResponse "User not authorized"
// @Failure 503 {object} response.ErrorResponse "Provider or storage unavailable"
// @Security BearerAuth
// @Router /campaign/redeem [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.campaign.redeem"

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

	if err := h.service.Redeem(r.Context(), userUID, req.CampaignCode); err != nil {
		if code, rejected := rejectionCode(err); rejected {
			log.Info("redemption rejected",
				slog.String("user_uid", userUID),
				slog.String("reason", code))
			render.JSON(w, r, Result{Valid: false, Error: code})
			return
		}
		log.Error("redemption failed", sl.Err(err))
		w.WriteHeader(errs.HTTPStatus(err))
		render.JSON(w, r, response.Error(errs.Message(err)))
		return
	}

	log.Info("campaign code redeemed", slog.String("user_uid", userUID))
	render.JSON(w, r, Result{Valid: true})
}
