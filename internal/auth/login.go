package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/virtualcc/backoffice/internal/backoffice/httputil"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
	"github.com/virtualcc/backoffice/internal/logging"
)

// UserLookup finds accounts by email.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      struct {
		ID    string     `json:"id"`
		Email string     `json:"email"`
		Name  string     `json:"name"`
		Role  store.Role `json:"role"`
	} `json:"user"`
}

// LoginHandler exchanges email and password for a session token, returned in
// the body and as an HttpOnly cookie.
type LoginHandler struct {
	users        UserLookup
	tokens       *Tokens
	secureCookie bool
}

// NewLoginHandler creates the login endpoint. secureCookie marks the session
// cookie Secure.
func NewLoginHandler(users UserLookup, tokens *Tokens, secureCookie bool) *LoginHandler {
	return &LoginHandler{users: users, tokens: tokens, secureCookie: secureCookie}
}

func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "auth.login"
	var req loginRequest
	if err := httputil.DecodeJSON(w, r, 16*1024, &req); err != nil {
		httputil.WriteError(w, r, err, "Login failed")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		httputil.WriteError(w, r, boerrors.Validation(op, "Email and password are required"), "Login failed")
		return
	}

	u, err := h.users.GetUserByEmail(r.Context(), email)
	if err != nil {
		httputil.WriteError(w, r, err, "Login failed")
		return
	}
	if u == nil || !CheckPasswordHash(req.Password, u.PasswordHash) {
		logging.FromContext(r.Context()).Info().Str("email", email).Msg("Login rejected: invalid credentials")
		httputil.WriteError(w, r, boerrors.New(boerrors.ErrorTypeAuth, op, nil).WithMessage("Invalid email or password"), "Login failed")
		return
	}

	token, expires, err := h.tokens.Issue(u)
	if err != nil {
		httputil.WriteError(w, r, err, "Login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	resp := loginResponse{Token: token, ExpiresAt: expires}
	resp.User.ID = u.ID
	resp.User.Email = u.Email
	resp.User.Name = u.Name
	resp.User.Role = u.Role
	logging.FromContext(r.Context()).Info().Str("user_id", u.ID).Msg("User logged in")
	httputil.WriteJSON(w, http.StatusOK, resp)
}
