package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ortegalabs/fieldkeep/internal/auth"
	"github.com/ortegalabs/fieldkeep/internal/domain"
)

type contextKey string

// RequireBearer verifies the Authorization bearer token and attaches the
// resulting identity to the request context. Requests without a valid
// token get a 401.
func RequireBearer(verifier auth.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respondWithError(w, r, domain.Unauthorized("auth.bearer", "missing bearer token"))
				return
			}

			identity, err := verifier.Verify(r.Context(), token)
			if err != nil {
				respondWithError(w, r, err)
				return
			}
			if !identity.Valid() {
				respondWithError(w, r, domain.Unauthorized("auth.bearer", "token carries no usable identity"))
				return
			}

			ctx := domain.NewIdentityContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// GetIdentity retrieves the authenticated identity from the context.
// The second return is false on unauthenticated paths.
func GetIdentity(ctx context.Context) (domain.AuthenticatedIdentity, bool) {
	return domain.IdentityFromContext(ctx)
}
