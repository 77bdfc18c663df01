// Package handler exposes the attestation submission and listing endpoints.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gns/internal/attestation"
	"gns/pkg/platform/httputil"
	"gns/pkg/requestcontext"
)

// Handler serves the attestation routes.
type Handler struct {
	svc    *attestation.Service
	logger *slog.Logger
}

// New builds an attestation handler.
func New(svc *attestation.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the attestation routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/attestations", h.append)
	r.Get("/v1/identities/{publicKey}/attestations", h.list)
}

func (h *Handler) append(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[attestation.AppendRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	result, err := h.svc.Append(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	atts, err := h.svc.List(r.Context(), chi.URLParam(r, "publicKey"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"attestations": atts})
}
