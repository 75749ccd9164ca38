package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestTokens(t *testing.T) *Tokens {
	t.Helper()
	tokens, err := NewTokens(testSecret, time.Hour)
	require.NoError(t, err)
	return tokens
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("correct horse battery", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
	assert.False(t, CheckPasswordHash("anything", ""))

	// bcrypt rejects passwords longer than 72 bytes.
	_, err = HashPassword(strings.Repeat("A", 80))
	assert.Error(t, err)
}

func TestValidatePasswordComplexity(t *testing.T) {
	assert.Error(t, ValidatePasswordComplexity("short"))
	assert.NoError(t, ValidatePasswordComplexity("long-enough-password"))
}

func TestNewTokensRejectsShortSecret(t *testing.T) {
	_, err := NewTokens("short", time.Hour)
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestTokensIssueAndVerify(t *testing.T) {
	tokens := newTestTokens(t)
	u := &store.User{ID: "user-1", Email: "admin@vcc.org.au", Role: store.RoleAdmin}

	signed, expires, err := tokens.Issue(u)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := tokens.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, store.RoleAdmin, claims.Role)
	assert.Equal(t, TokenIssuer, claims.Issuer)
}

func TestTokensVerifyRejects(t *testing.T) {
	tokens := newTestTokens(t)
	signed, _, err := tokens.Issue(&store.User{ID: "user-1"})
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		later := newTestTokens(t)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Verify(signed)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokens(strings.Repeat("x", 32), time.Hour)
		require.NoError(t, err)
		_, err = other.Verify(signed)
		assert.Error(t, err)
	})

	t.Run("none algorithm", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "user-1",
				Issuer:    TokenIssuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tokens.Verify(unsigned)
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := tokens.Verify("  ")
		assert.ErrorIs(t, err, ErrTokenMissing)
	})
}

func principalEcho(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	_ = json.NewEncoder(w).Encode(map[string]string{"user": p.UserID, "role": string(p.Role), "method": string(p.Method)})
}

func TestRequireAuth(t *testing.T) {
	tokens := newTestTokens(t)
	a := NewAuthenticator(tokens, "admin-key")
	h := a.RequireAuth(http.HandlerFunc(principalEcho))
	signed, _, err := tokens.Issue(&store.User{ID: "user-1", Role: store.RoleUser})
	require.NoError(t, err)

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
		wantUser   string
	}{
		{"no credentials", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+signed) }, http.StatusOK, "user-1"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookieName, Value: signed}) }, http.StatusOK, "user-1"},
		{"garbage bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ""},
		{"api key", func(r *http.Request) { r.Header.Set(APIKeyHeader, "admin-key") }, http.StatusOK, "api-key"},
		{"wrong api key", func(r *http.Request) { r.Header.Set(APIKeyHeader, "guess") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/subscriptions", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantUser != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantUser, body["user"])
			} else {
				assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyDisabledWhenUnset(t *testing.T) {
	a := NewAuthenticator(newTestTokens(t), "")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(APIKeyHeader, "anything")
	_, err := a.Authenticate(req)
	assert.Error(t, err)
}

func TestRequireAdmin(t *testing.T) {
	tokens := newTestTokens(t)
	a := NewAuthenticator(tokens, "")
	h := a.RequireAdmin(http.HandlerFunc(principalEcho))

	userToken, _, err := tokens.Issue(&store.User{ID: "user-1", Role: store.RoleUser})
	require.NoError(t, err)
	adminToken, _, err := tokens.Issue(&store.User{ID: "admin-1", Role: store.RoleAdmin})
	require.NoError(t, err)

	for token, want := range map[string]int{"": http.StatusUnauthorized, userToken: http.StatusForbidden, adminToken: http.StatusOK} {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/analytics", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
}

func TestRequireAuthReusesContextPrincipal(t *testing.T) {
	a := NewAuthenticator(newTestTokens(t), "admin-key")
	inner := a.RequireAdmin(http.HandlerFunc(principalEcho))
	h := a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drop the credentials: the inner check must rely on the context.
		r.Header.Del(APIKeyHeader)
		inner.ServeHTTP(w, r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/status", nil)
	req.Header.Set(APIKeyHeader, "admin-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"user":"api-key","role":"ADMIN","method":"api_key"}`, rec.Body.String())
}

type fakeUsers map[string]*store.User

func (f fakeUsers) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	return f[email], nil
}

func TestLoginHandler(t *testing.T) {
	hash, err := HashPassword("a-very-long-password")
	require.NoError(t, err)
	users := fakeUsers{"admin@vcc.org.au": {ID: "admin-1", Email: "admin@vcc.org.au", Name: "Admin", Role: store.RoleAdmin, PasswordHash: hash}}
	tokens := newTestTokens(t)
	h := NewLoginHandler(users, tokens, true)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"email":" Admin@VCC.org.au ","password":"a-very-long-password"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "admin-1", resp.User.ID)
	claims, err := tokens.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, claims.Role)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, TokenCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)

	rec = post(`{"email":"admin@vcc.org.au","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid email or password"}`, rec.Body.String())

	rec = post(`{"email":"nobody@vcc.org.au","password":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(`{"email":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
