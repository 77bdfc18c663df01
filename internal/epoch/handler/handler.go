// Package handler exposes epoch listing and inclusion-proof endpoints.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gns/internal/epoch"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/httputil"
)

// Handler serves the epoch routes.
type Handler struct {
	agg    *epoch.Aggregator
	logger *slog.Logger
}

// New builds an epoch handler.
func New(agg *epoch.Aggregator, logger *slog.Logger) *Handler {
	return &Handler{agg: agg, logger: logger}
}

// Register mounts the epoch routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/identities/{publicKey}/epochs", h.list)
	r.Get("/v1/epochs/{epochID}/proof", h.prove)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	epochs, err := h.agg.List(r.Context(), chi.URLParam(r, "publicKey"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"epochs":      epochs,
		"signing_key": h.agg.PublicKey(),
	})
}

func (h *Handler) prove(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "epochID"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "epoch id must be a uuid"))
		return
	}
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "hash query parameter is required"))
		return
	}
	proof, err := h.agg.Prove(r.Context(), id, hash)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, proof)
}
