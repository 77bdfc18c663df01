// Package handler exposes the merchant-facing settlement batch endpoints.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gns/internal/merchant"
	"gns/internal/settlement"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/httputil"
	"gns/pkg/requestcontext"
)

// Handler serves the /v1/settlements routes.
type Handler struct {
	svc       *settlement.Service
	merchants *merchant.Service
	logger    *slog.Logger
}

// New builds a settlement handler.
func New(svc *settlement.Service, merchants *merchant.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, merchants: merchants, logger: logger}
}

// Register mounts the settlement routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.merchants.RequireAuth)
		r.Post("/v1/settlements/batches", h.runBatch)
		r.Get("/v1/settlements/batches/{batchID}", h.getBatch)
	})
}

type runBatchRequest struct {
	Currency string `json:"currency"`
}

func (h *Handler) runBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, ok := merchant.FromContext(ctx)
	if !ok {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeUnauthorized, "merchant credentials required"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[runBatchRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	batch, err := h.svc.Run(ctx, m.ID, req.Currency)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, ok := merchant.FromContext(ctx)
	if !ok {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeUnauthorized, "merchant credentials required"))
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "batch id must be a uuid"))
		return
	}
	batch, err := h.svc.GetBatch(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if batch.MerchantID != m.ID {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeNotFound, "batch not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, batch)
}
