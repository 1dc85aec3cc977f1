package http

import (
	"context"
	"net/http"
	"strings"

	"exam-prep-service/internal/domain"
)

// Verifier resolves a bearer token into a session.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Session, error)
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) (domain.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(domain.Session)
	return s, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireSession rejects requests without a valid bearer token.
func requireSession(v Verifier, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		s, err := v.Verify(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, s)))
	}
}

// requirePermission additionally checks a capability carried by the session.
func requirePermission(v Verifier, perm string, next http.HandlerFunc) http.HandlerFunc {
	return requireSession(v, func(w http.ResponseWriter, r *http.Request) {
		s, _ := sessionFrom(r.Context())
		if !s.Can(perm) {
			writeError(w, domain.ErrForbidden)
			return
		}
		next(w, r)
	})
}
