// Package cancel implements the HTTP handler for entitlement
// cancellation.
package cancel

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
)

// Service describes the cancellation contract.
type Service interface {
	Cancel(ctx context.Context, userUID string) error
}

// Handler handles cancellation requests.
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
// @Summary Cancel the subscription
// @Description Turns off auto-renew and marks the entitlement canceled. Repeating the call is a no-op.
// @Tags Entitlement
// @Produce json
// @Success 200 {object} response.Response "Canceled"
// @Failure 401 {object} response.ErrorResponse "User not authorized"
// @Failure 503 {object} response.ErrorResponse "Storage unavailable"
// @Security BearerAuth
// @Router /subscription/cancel [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlement.cancel"

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

	if err := h.service.Cancel(r.Context(), userUID); err != nil {
		log.Error("failed to cancel", sl.Err(err))
		w.WriteHeader(errs.HTTPStatus(err))
		render.JSON(w, r, response.Error(errs.Message(err)))
		return
	}

	log.Info("subscription canceled", slog.String("user_uid", userUID))
	render.JSON(w, r, response.OK())
}
