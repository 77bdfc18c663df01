package merchant

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	domainerrors "gns/pkg/domain-errors"
	"gns/pkg/platform/httputil"
)

type contextKey struct{}

// FromContext returns the authenticated merchant, if any.
func FromContext(ctx context.Context) (*Merchant, bool) {
	m, ok := ctx.Value(contextKey{}).(*Merchant)
	return m, ok
}

// RequireAuth authenticates merchant requests. Credentials travel as
// "Authorization: Bearer <merchant-id>:<secret>".
func (s *Service) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := parseBearer(r.Header.Get("Authorization"))
		if !ok {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeUnauthorized, "merchant credentials required"))
			return
		}
		m, err := s.Authenticate(r.Context(), id, secret)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, m)))
	})
}

func parseBearer(header string) (uuid.UUID, string, bool) {
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return uuid.Nil, "", false
	}
	idPart, secret, found := strings.Cut(token, ":")
	if !found || secret == "" {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, secret, true
}
