// Package handler exposes identity trust and handle endpoints.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gns/internal/identity"
	"gns/pkg/platform/httputil"
	"gns/pkg/requestcontext"
)

// Handler serves the /v1/identities routes.
type Handler struct {
	svc    *identity.Service
	logger *slog.Logger
}

// New builds an identity handler.
func New(svc *identity.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the identity routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/identities/{publicKey}/trust", h.getTrust)
	r.Post("/v1/identities/{publicKey}/handle", h.claimHandle)
}

func (h *Handler) getTrust(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.GetTrustState(r.Context(), chi.URLParam(r, "publicKey"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

type claimHandleRequest struct {
	Handle    string `json:"handle"`
	Signature string `json:"signature"`
}

func (h *Handler) claimHandle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[claimHandleRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	state, err := h.svc.ClaimHandle(ctx, chi.URLParam(r, "publicKey"), req.Handle, req.Signature)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}
