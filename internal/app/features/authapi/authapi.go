// Package authapi provides the JSON authentication endpoints.
//
// Endpoints:
//   - POST /auth/login  - password login
//   - POST /auth/logout - destroy the current session
//   - GET  /auth/me     - current session user
//
// Google sign-in is handled separately by the authgoogle feature; login
// here only accepts users whose auth_method is "password".
package authapi

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - LoginID / loginID / login_id: The human-readable string users type to log in

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/harmonyroom/harmonyroom/internal/app/store/ratelimit"
	"github.com/harmonyroom/harmonyroom/internal/app/system/apicors"
	userstore "github.com/harmonyroom/harmonyroom/internal/app/store/users"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auditlog"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
	"github.com/harmonyroom/harmonyroom/internal/app/system/authutil"
	"github.com/harmonyroom/harmonyroom/internal/app/system/jsonutil"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Handler provides the authentication API handlers.
type Handler struct {
	users       *userstore.Store
	rateLimits  *ratelimit.Store // nil if rate limiting disabled
	sessionMgr  *auth.SessionManager
	auditLogger *auditlog.Logger
	logger      *zap.Logger
}

// NewHandler creates an authapi Handler. rateLimits may be nil to
// disable login rate limiting.
func NewHandler(db *mongo.Database, sessionMgr *auth.SessionManager, rateLimits *ratelimit.Store, auditLogger *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		users:       userstore.New(db),
		rateLimits:  rateLimits,
		sessionMgr:  sessionMgr,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// Routes returns a chi.Router with the auth endpoints mounted.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(apicors.Middleware())
	r.Use(h.sessionMgr.LoadSessionUser)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
	return r
}

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

type userResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	LoginID      string `json:"login_id"`
	PlatformRole string `json:"platform_role"`
}

// handleLogin verifies credentials and establishes a session.
// Failures deliberately return the same message for "no such user" and
// "wrong password" so the endpoint cannot be used to probe for accounts.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	in.LoginID = strings.TrimSpace(in.LoginID)
	if in.LoginID == "" || in.Password == "" {
		jsonutil.BadRequest(w, "login_id and password are required")
		return
	}

	if h.rateLimits != nil {
		allowed, _, lockedUntil := h.rateLimits.CheckAllowed(r.Context(), in.LoginID)
		if !allowed {
			h.auditLogger.LogAuthEvent(r, nil, "login_rate_limited", false, "rate limit exceeded for "+in.LoginID)
			msg := "too many failed login attempts; try again later"
			if lockedUntil != nil {
				remaining := time.Until(*lockedUntil)
				if remaining > time.Minute {
					msg = fmt.Sprintf("too many failed login attempts; try again in %d minute(s)", int(remaining.Minutes())+1)
				} else {
					msg = fmt.Sprintf("too many failed login attempts; try again in %d second(s)", int(remaining.Seconds())+1)
				}
			}
			jsonutil.Error(w, http.StatusTooManyRequests, msg)
			return
		}
	}

	user, err := h.users.GetByLoginID(r.Context(), in.LoginID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if h.rateLimits != nil {
				h.rateLimits.RecordFailure(r.Context(), in.LoginID)
			}
			h.auditLogger.LoginFailedUserNotFound(r.Context(), r, in.LoginID)
			jsonutil.Unauthorized(w, "invalid login or password")
			return
		}
		h.logger.Error("login lookup failed", zap.Error(err))
		jsonutil.Error(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}

	if user.Status != "active" {
		h.auditLogger.LoginFailedUserDisabled(r.Context(), r, user.ID, in.LoginID)
		jsonutil.Forbidden(w, "account is disabled")
		return
	}

	if user.AuthMethod != "password" || user.PasswordHash == nil {
		jsonutil.BadRequest(w, "this account does not use password login")
		return
	}

	if !authutil.CheckPassword(in.Password, *user.PasswordHash) {
		if h.rateLimits != nil {
			h.rateLimits.RecordFailure(r.Context(), in.LoginID)
		}
		h.auditLogger.LoginFailedWrongPassword(r.Context(), r, user.ID, in.LoginID)
		jsonutil.Unauthorized(w, "invalid login or password")
		return
	}

	if h.rateLimits != nil {
		if err := h.rateLimits.ClearOnSuccess(r.Context(), in.LoginID); err != nil {
			h.logger.Warn("failed to clear rate limit record", zap.Error(err))
		}
	}

	if err := h.sessionMgr.CreateSession(w, r, user.ID, user.PlatformRole, ""); err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		jsonutil.InternalError(w, "failed to create session")
		return
	}

	h.auditLogger.LoginSuccess(r.Context(), r, user.ID, user.AuthMethod, in.LoginID)

	loginID := ""
	if user.LoginID != nil {
		loginID = *user.LoginID
	}
	jsonutil.OK(w, userResponse{
		ID:           user.ID.Hex(),
		Name:         user.FullName,
		LoginID:      loginID,
		PlatformRole: user.PlatformRole,
	})
}

// handleLogout destroys the current session. Safe to call when not
// signed in.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if u, ok := auth.CurrentUser(r); ok {
		h.auditLogger.Logout(r.Context(), r, u.ID)
	}
	h.sessionMgr.DestroySession(w, r)
	jsonutil.NoContent(w)
}

// handleMe returns the current session user.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r)
	if !ok {
		jsonutil.Unauthorized(w, "not signed in")
		return
	}
	jsonutil.OK(w, userResponse{
		ID:           u.ID,
		Name:         u.Name,
		LoginID:      u.LoginID,
		PlatformRole: u.PlatformRole,
	})
}
