// Package handler exposes the payment intent endpoints.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gns/internal/payment"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/httputil"
	"gns/pkg/requestcontext"
)

// Handler serves the /v1/payments routes.
type Handler struct {
	svc    *payment.Service
	logger *slog.Logger
}

// New builds a payment handler.
func New(svc *payment.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the payment routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/payments/intents", h.create)
	r.Get("/v1/payments/intents/pending", h.poll)
	r.Post("/v1/payments/intents/{paymentID}/ack", h.acknowledge)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[payment.CreateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	intent, err := h.svc.Create(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, intent)
}

func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	to := r.URL.Query().Get("identity")
	if to == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "identity query parameter is required"))
		return
	}
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "since must be RFC 3339"))
			return
		}
		since = parsed
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	intents, err := h.svc.Poll(r.Context(), to, since, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"intents": intents})
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[payment.AckRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	intent, err := h.svc.Acknowledge(ctx, chi.URLParam(r, "paymentID"), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, intent)
}
