// Package status implements the HTTP handler for status evaluation.
package status

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

// Service describes the status evaluation contract.
type Service interface {
	GetStatus(ctx context.Context, userUID string) (*models.StatusView, error)
}

// Handler handles subscription status requests.
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
// @Summary Get the subscription status
// @Description Returns the effective status of the current user. Trials report the days remaining.
// @Tags Entitlement
// @Produce json
// @Success 200 {object} response.Response "Current status"
// @Failure 401 {object} response.ErrorResponse "User not authorized"
// @Failure 503 {object} response.ErrorResponse "Storage unavailable"
// @Security BearerAuth
// @Router /subscription/status [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.status"

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

	view, err := h.service.GetStatus(r.Context(), userUID)
	if err != nil {
		log.Error("failed to get status", sl.Err(err))
		w.WriteHeader(errs.HTTPStatus(err))
		render.JSON(w, r, response.Error(errs.Message(err)))
		return
	}

	render.JSON(w, r, response.OKWithData(view))
}
