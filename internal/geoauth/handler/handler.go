// Package handler exposes the geoauth session endpoints. Session creation is
// merchant-authenticated; authorize and use are called by the payer.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gns/internal/geoauth"
	"gns/internal/merchant"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/httputil"
	"gns/pkg/requestcontext"
)

// Handler serves the /v1/geoauth routes.
type Handler struct {
	svc       *geoauth.Service
	merchants *merchant.Service
	logger    *slog.Logger
}

// New builds a geoauth handler.
func New(svc *geoauth.Service, merchants *merchant.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, merchants: merchants, logger: logger}
}

// Register mounts the geoauth routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.With(h.merchants.RequireAuth).Post("/v1/geoauth/sessions", h.create)
	r.Post("/v1/geoauth/sessions/{authID}/authorize", h.authorize)
	r.Post("/v1/geoauth/sessions/{authID}/use", h.markUsed)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, ok := merchant.FromContext(ctx)
	if !ok {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeUnauthorized, "merchant credentials required"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[geoauth.CreateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	session, err := h.svc.Create(ctx, m.ID, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authID, err := uuid.Parse(chi.URLParam(r, "authID"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "auth id must be a uuid"))
		return
	}
	req, ok := httputil.DecodeAndPrepare[geoauth.AuthorizeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	session, err := h.svc.Authorize(ctx, authID, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) markUsed(w http.ResponseWriter, r *http.Request) {
	authID, err := uuid.Parse(chi.URLParam(r, "authID"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "auth id must be a uuid"))
		return
	}
	session, err := h.svc.MarkUsed(r.Context(), authID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}
