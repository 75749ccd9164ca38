package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/virtualcc/backoffice/internal/backoffice/httputil"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
	"github.com/virtualcc/backoffice/internal/logging"
)

const (
	// TokenCookieName carries the session token for browser clients.
	TokenCookieName = "token"
	// APIKeyHeader carries the admin API key for machine clients.
	APIKeyHeader = "X-API-Key"
)

// Authenticator resolves request credentials into a Principal.
type Authenticator struct {
	tokens *Tokens
	apiKey string
}

// NewAuthenticator accepts session tokens signed by tokens and, when
// adminAPIKey is set, the admin API key.
func NewAuthenticator(tokens *Tokens, adminAPIKey string) *Authenticator {
	return &Authenticator{tokens: tokens, apiKey: strings.TrimSpace(adminAPIKey)}
}

// Authenticate checks, in order, the API key header, a bearer token and the
// session cookie.
func (a *Authenticator) Authenticate(r *http.Request) (*Principal, error) {
	const op = "auth.authenticate"

	if key := r.Header.Get(APIKeyHeader); key != "" {
		if a.apiKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) != 1 {
			return nil, boerrors.Unauthorized(op, errors.New("invalid API key"))
		}
		return &Principal{UserID: "api-key", Role: store.RoleAdmin, Method: MethodAPIKey}, nil
	}

	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(TokenCookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return nil, boerrors.Unauthorized(op, ErrTokenMissing)
	}

	claims, err := a.tokens.Verify(token)
	if err != nil {
		return nil, boerrors.Unauthorized(op, err)
	}
	return &Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
		Method: MethodToken,
	}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireAuth rejects unauthenticated requests with 401. A principal already
// on the request context is reused.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		p, err := a.Authenticate(r)
		if err != nil {
			logging.FromContext(r.Context()).Debug().Err(err).Str("path", r.URL.Path).Msg("Request rejected: unauthenticated")
			httputil.WriteError(w, r, err, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin rejects unauthenticated requests with 401 and non-admin
// callers with 403.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFromContext(r.Context())
		if !p.IsAdmin() {
			logging.FromContext(r.Context()).Warn().Str("user_id", p.UserID).Str("path", r.URL.Path).Msg("Admin access denied")
			httputil.WriteError(w, r, boerrors.Forbidden("auth.require_admin"), "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	}))
}
