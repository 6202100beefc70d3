// internal/app/features/authgoogle/authgoogle.go

// Package authgoogle implements the Google OAuth sign-in flow.
//
// Accounts are provisioned by an admin first; the callback only signs in
// users whose email already exists with auth_method "google". The flow
// is browser-redirect based, so failures land back on the client with an
// auth_error query parameter rather than a JSON body.
package authgoogle

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - LoginID / loginID / login_id: The human-readable string users type to log in

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	errorsfeature "github.com/harmonyroom/harmonyroom/internal/app/features/errors"
	"github.com/harmonyroom/harmonyroom/internal/app/store/oauthstate"
	userstore "github.com/harmonyroom/harmonyroom/internal/app/store/users"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auditlog"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Handler provides Google OAuth handlers.
type Handler struct {
	userStore       *userstore.Store
	sessionMgr      *auth.SessionManager
	errLog          *errorsfeature.ErrorLogger
	auditLogger     *auditlog.Logger
	oauthStateStore *oauthstate.Store
	oauthConfig     *oauth2.Config
	logger          *zap.Logger
}

// NewHandler creates a new Google OAuth Handler.
func NewHandler(
	db *mongo.Database,
	sessionMgr *auth.SessionManager,
	errLog *errorsfeature.ErrorLogger,
	auditLogger *auditlog.Logger,
	oauthStateStore *oauthstate.Store,
	clientID string,
	clientSecret string,
	baseURL string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		userStore:       userstore.New(db),
		sessionMgr:      sessionMgr,
		errLog:          errLog,
		auditLogger:     auditLogger,
		oauthStateStore: oauthStateStore,
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  baseURL + "/auth/google/callback",
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		logger: logger,
	}
}

// Routes returns a chi.Router with Google OAuth routes mounted.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.startAuth)
	r.Get("/callback", h.handleCallback)
	return r
}

// startAuth initiates the Google OAuth flow.
func (h *Handler) startAuth(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		h.errLog.Log(r, "failed to generate state", err)
		redirectError(w, r, "oauth_error")
		return
	}

	// Store state in database so the callback can verify it even if it
	// lands on another instance.
	if err := h.oauthStateStore.Create(r.Context(), state); err != nil {
		h.errLog.Log(r, "failed to store state", err)
		redirectError(w, r, "oauth_error")
		return
	}

	url := h.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// handleCallback processes the Google OAuth callback.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Verify state
	state := r.URL.Query().Get("state")
	if !h.oauthStateStore.Verify(r.Context(), state) {
		h.logger.Warn("invalid oauth state")
		redirectError(w, r, "invalid_state")
		return
	}

	// Check for error from Google
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		h.logger.Warn("oauth error from google", zap.String("error", errMsg))
		redirectError(w, r, errMsg)
		return
	}

	// Exchange code for token
	code := r.URL.Query().Get("code")
	token, err := h.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		h.errLog.Log(r, "failed to exchange code", err)
		redirectError(w, r, "token_exchange_failed")
		return
	}

	userInfo, err := h.getUserInfo(r.Context(), token)
	if err != nil {
		h.errLog.Log(r, "failed to get user info", err)
		redirectError(w, r, "userinfo_failed")
		return
	}

	// Google sign-in requires a pre-provisioned account.
	user, err := h.userStore.GetByEmail(r.Context(), userInfo.Email)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			h.auditLogger.LoginFailedUserNotFound(r.Context(), r, userInfo.Email)
			redirectError(w, r, "user_not_found")
			return
		}
		h.errLog.Log(r, "failed to get user by email", err)
		redirectError(w, r, "database_error")
		return
	}

	if user.Status != "active" {
		h.auditLogger.LogAuthEvent(r, &user.ID, "login_failed_user_disabled", false, "user disabled")
		redirectError(w, r, "account_disabled")
		return
	}

	if user.AuthMethod != "google" {
		h.auditLogger.LogAuthEvent(r, &user.ID, "login_failed_wrong_password", false, "account does not use google sign-in")
		redirectError(w, r, "wrong_auth_method")
		return
	}

	if err := h.sessionMgr.CreateSession(w, r, user.ID, user.PlatformRole, ""); err != nil {
		h.errLog.Log(r, "failed to create session", err)
		redirectError(w, r, "session_error")
		return
	}

	loginID := userInfo.Email
	if user.LoginID != nil {
		loginID = *user.LoginID
	}
	h.auditLogger.LoginSuccess(r.Context(), r, user.ID, user.AuthMethod, loginID)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GoogleUserInfo represents user info from Google.
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// getUserInfo fetches user info from Google.
func (h *Handler) getUserInfo(ctx context.Context, token *oauth2.Token) (*GoogleUserInfo, error) {
	client := h.oauthConfig.Client(ctx, token)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", "https://www.googleapis.com/oauth2/v2/userinfo", nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var userInfo GoogleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, err
	}

	return &userInfo, nil
}

// generateState generates a random state token.
func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func redirectError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/?auth_error="+code, http.StatusSeeOther)
}
