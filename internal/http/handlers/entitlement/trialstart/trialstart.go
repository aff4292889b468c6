// Package trialstart implements the HTTP handler for trial activation.
package trialstart

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/aistudyjp/entitlement-service/internal/errs"
	"github.com/aistudyjp/entitlement-service/internal/http/middlewarectx"
	"github.com/aistudyjp/entitlement-service/internal/http/response"
	"github.com/aistudyjp/entitlement-service/internal/lib/sl"
	"github.com/aistudyjp/entitlement-service/internal/models"
)

// Service describes the trial activation contract.
type Service interface {
	StartTrial(ctx context.Context, userUID string) (*models.Entitlement, error)
}

// Handler handles trial activation requests.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New creates a Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Start the free trial
// @Description Activates the 30-day trial for the current user. Works at most once per account.
// @Tags Entitlement
// @Produce json
// @Success 200 {object} response.Response "Trial activated"
// @Failure 401 {object} response.ErrorResponse "User not authorized"
// @Failure 409 {object} response.ErrorResponse "User already holds an entitlement"
// @Failure 503 {object} response.ErrorResponse "Storage unavailable"
// @Security BearerAuth
// @Router /trial [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.trialstart"

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

	ent, err := h.service.StartTrial(r.Context(), userUID)
	if err != nil {
		log.Error("failed to start trial", sl.Err(err))
		w.WriteHeader(errs.HTTPStatus(err))
		render.JSON(w, r, response.Error(errs.Message(err)))
		return
	}

	log.Info("trial started", slog.String("user_uid", userUID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"status":        ent.Status,
		"trial_ends_at": ent.TrialEndsAt,
	}))
}
