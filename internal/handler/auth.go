package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/auth"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/service"
)

const stateCookieName = "oauth_state"

// ResetLinkSender delivers a password reset link to a user.
type ResetLinkSender interface {
	SendResetLink(ctx context.Context, user *model.User, link string) error
}

// LogResetSender is the default ResetLinkSender. It records that a link was
// issued and to whom, never the link itself, since the link is a credential.
type LogResetSender struct {
	Logger *slog.Logger
}

func (s LogResetSender) SendResetLink(_ context.Context, user *model.User, _ string) error {
	s.Logger.Info("password reset link issued",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
	)
	return nil
}

// AuthConfig carries the knobs AuthHandler needs from configuration.
type AuthConfig struct {
	SessionTTL    time.Duration
	ResetURLBase  string // the reset token is appended as ?token=
	SecureCookies bool   // set Secure on cookies; needs HTTPS
}

// AuthHandler manages registration, login, logout, password reset and the
// GitHub OAuth flow.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister       → create an account
//   - HandleLogin          → check credentials, set the session cookie
//   - HandleLogout         → clear the session cookie
//   - HandleResetRequest   → email a reset link (if the address is known)
//   - HandleReset          → set a new password with a reset token
//   - HandleGitHubLogin    → redirect the browser to GitHub's authorization page
//   - HandleGitHubCallback → receive the code, sign the user in
//
// DEPENDENCY CHAIN:
//   - identity *service.IdentityService → all account logic
//   - github   *auth.GitHubProvider     → performs the OAuth code exchange (nil when disabled)
//   - resets   ResetLinkSender          → delivers reset links
type AuthHandler struct {
	identity *service.IdentityService
	github   *auth.GitHubProvider
	resets   ResetLinkSender
	config   AuthConfig
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. github may be nil.
func NewAuthHandler(
	identity *service.IdentityService,
	github *auth.GitHubProvider,
	resets ResetLinkSender,
	config AuthConfig,
	logger *slog.Logger,
) *AuthHandler {
	if resets == nil {
		resets = LogResetSender{Logger: logger}
	}
	return &AuthHandler{
		identity: identity,
		github:   github,
		resets:   resets,
		config:   config,
		logger:   logger,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  meView `json:"user"`
	Token string `json:"token"`
}

// HandleRegister creates an account. It does not sign the user in.
//
// HTTP: POST /auth/register
// REQUEST BODY: {"username": "alice", "email": "alice@example.com", "password": "..."}
// RESPONSES: 201 user, 400 validation, 409 username or email taken
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.identity.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, newMeView(user))
}

// HandleLogin checks a username and password and starts a session.
//
// HTTP: POST /auth/login
// REQUEST BODY: {"username": "alice", "password": "..."}
//
// The token is set as an HttpOnly cookie for browsers and also returned in
// the body for API clients, which send it back as a Bearer header.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.setSessionCookie(w, result.Token)
	writeJSON(w, http.StatusOK, sessionResponse{User: newMeView(result.User), Token: result.Token})
}

// HandleLogout clears the JWT cookie.
//
// HTTP: POST /auth/logout
//
// Since we're stateless (JWT), "logout" just means deleting the client-side
// cookie. The token remains technically valid until it expires, but without
// the cookie the browser can't send it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

type resetRequestRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// resetRequestedMessage is the same whether or not the email is registered,
// so the endpoint can't be used to discover accounts.
const resetRequestedMessage = "if that address is registered, a reset link is on its way"

// HandleResetRequest issues a reset link for an email address.
//
// HTTP: POST /auth/reset/request
// REQUEST BODY: {"email": "alice@example.com"}
// RESPONSE: always 202 with the same message, unless storage fails
func (h *AuthHandler) HandleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	token, user, ok, err := h.identity.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if ok {
		if err := h.resets.SendResetLink(r.Context(), user, h.resetLink(token)); err != nil {
			h.logger.Error("sending reset link failed",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{Message: resetRequestedMessage})
}

func (h *AuthHandler) resetLink(token string) string {
	return h.config.ResetURLBase + "?token=" + url.QueryEscape(token)
}

// HandleReset sets a new password using a reset token.
//
// HTTP: POST /auth/reset
// REQUEST BODY: {"token": "...", "password": "new password"}
// RESPONSES: 200 done, 400 invalid/expired/used token or bad password
func (h *AuthHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	done, err := h.identity.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !done {
		writeError(w, h.logger, apperror.ValidationFailed("token", "reset link is invalid or has expired"))
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// We generate a random state string and store it in a short-lived cookie.
// When GitHub calls back, HandleGitHubCallback verifies the state matches.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub identity
//  3. Find, link or create the account
//  4. Set the session cookie and redirect home
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("github callback: state mismatch")
		writeError(w, h.logger, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("github callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for a GitHub identity ---
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, h.logger, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	identity, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		writeError(w, h.logger, apperror.Unauthorized("GitHub authentication failed"))
		return
	}

	// --- Step 3: Sign in ---
	result, err := h.identity.LoginWithGitHub(r.Context(), identity)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// --- Step 4: Session cookie ---
	h.setSessionCookie(w, result.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// setSessionCookie stores the JWT in an HttpOnly cookie.
// HttpOnly = JavaScript cannot read this cookie (XSS protection).
// SameSite=Lax = sent on top-level navigations but not cross-site POSTs.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1, // tells the browser to delete the cookie immediately
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
