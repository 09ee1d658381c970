package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/periodic-erp/periodic/internal/platform/httpx"
)

// Middleware authenticates requests with Bearer keys of the form
// "<key id>.<secret>" and enforces scopes.
type Middleware struct {
	keys   KeyRepository
	logger *slog.Logger
}

// NewMiddleware constructs Middleware.
func NewMiddleware(keys KeyRepository, logger *slog.Logger) *Middleware {
	return &Middleware{keys: keys, logger: logger}
}

// Authenticate resolves the Bearer credential into a principal on the
// request context. Requests without a valid key get 401.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		keyPart, secret, ok := strings.Cut(raw, ".")
		if raw == "" || !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or malformed bearer key")
			return
		}
		keyID, err := uuid.Parse(keyPart)
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or malformed bearer key")
			return
		}

		key, err := m.keys.GetKey(r.Context(), keyID)
		if err != nil || key.Revoked {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "unknown or revoked key")
			return
		}
		if bcrypt.CompareHashAndPassword(key.SecretHash, []byte(secret)) != nil {
			m.logger.Warn("api key secret mismatch", slog.String("key_id", keyID.String()))
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "unknown or revoked key")
			return
		}

		principal := Principal{
			KeyID:            key.ID,
			AdministrationID: key.AdministrationID,
			Name:             key.Name,
			Scopes:           key.Scopes,
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireScope rejects principals without the scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no principal")
				return
			}
			if !principal.HasScope(scope) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
