// Package handler exposes the admin merchant endpoints.
package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"gns/internal/merchant"
	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/httputil"
	"gns/pkg/requestcontext"
)

// Handler serves the /admin/merchants routes.
type Handler struct {
	svc        *merchant.Service
	adminToken string
	logger     *slog.Logger
}

// New builds a merchant admin handler.
func New(svc *merchant.Service, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, adminToken: adminToken, logger: logger}
}

// Register mounts the admin routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/merchants", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/", h.create)
		r.Get("/{merchantID}", h.get)
	})
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeUnauthorized, "admin token required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createRequest struct {
	Name              string `json:"name"`
	SettlementAddress string `json:"settlement_address"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[createRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	reg, err := h.svc.Create(ctx, req.Name, req.SettlementAddress)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, reg)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "merchantID"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeValidation, "merchant id must be a uuid"))
		return
	}
	m, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}
