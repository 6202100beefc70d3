// Package adminapi provides the platform-admin user management JSON
// endpoints: listing, creating, updating, disabling, and deleting
// accounts, and resetting passwords.
//
// Every endpoint requires a signed-in platform admin. Safety rails: an
// admin cannot disable or delete their own account, and the last active
// admin can never be disabled, demoted, or deleted.
package adminapi

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - LoginID / loginID / login_id: The human-readable string users type to log in

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	userstore "github.com/harmonyroom/harmonyroom/internal/app/store/users"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auditlog"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
	"github.com/harmonyroom/harmonyroom/internal/app/system/authutil"
	"github.com/harmonyroom/harmonyroom/internal/app/system/jsonutil"
	"github.com/harmonyroom/harmonyroom/internal/app/system/status"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Handler provides the admin user management handlers.
type Handler struct {
	users       *userstore.Store
	auditLogger *auditlog.Logger
	logger      *zap.Logger
}

// NewHandler creates an adminapi Handler.
func NewHandler(db *mongo.Database, auditLogger *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		users:       userstore.New(db),
		auditLogger: auditLogger,
		logger:      logger,
	}
}

type userView struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name"`
	LoginID      string `json:"login_id,omitempty"`
	Email        string `json:"email,omitempty"`
	AuthMethod   string `json:"auth_method"`
	PlatformRole string `json:"platform_role"`
	Status       string `json:"status"`
}

func toUserView(u *models.User) userView {
	v := userView{
		ID:           u.ID.Hex(),
		FullName:     u.FullName,
		AuthMethod:   u.AuthMethod,
		PlatformRole: u.PlatformRole,
		Status:       u.Status,
	}
	if u.LoginID != nil {
		v.LoginID = *u.LoginID
	}
	if u.Email != nil {
		v.Email = *u.Email
	}
	return v
}

// handleList returns every account, sorted by name.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		jsonutil.InternalError(w, "failed to list users")
		return
	}
	out := make([]userView, 0, len(users))
	for i := range users {
		out = append(out, toUserView(&users[i]))
	}
	jsonutil.OK(w, out)
}

type createUserRequest struct {
	FullName     string `json:"full_name"`
	AuthMethod   string `json:"auth_method"` // password, google
	LoginID      string `json:"login_id"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	PlatformRole string `json:"platform_role"`
}

// handleCreate creates an account. Password accounts need login_id and
// password; Google accounts need an email, which becomes the login_id.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CurrentUser(r)

	var in createUserRequest
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}

	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		jsonutil.BadRequest(w, "full_name is required")
		return
	}
	if !models.IsValidAuthMethod(in.AuthMethod) {
		jsonutil.BadRequest(w, `auth_method must be "password" or "google"`)
		return
	}
	if in.PlatformRole == "" {
		in.PlatformRole = models.PlatformMember
	}
	if !models.IsValidPlatformRole(in.PlatformRole) {
		jsonutil.BadRequest(w, `platform_role must be "admin" or "member"`)
		return
	}

	if in.AuthMethod == "password" {
		if err := authutil.ValidatePassword(in.Password); err != nil {
			jsonutil.BadRequest(w, err.Error())
			return
		}
	}

	resolved, err := authutil.ValidateAndResolve(authutil.AuthInput{
		Method:   in.AuthMethod,
		LoginID:  strings.TrimSpace(in.LoginID),
		Email:    strings.TrimSpace(in.Email),
		Password: in.Password,
	})
	if err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}

	u := models.User{
		FullName:     in.FullName,
		LoginID:      &resolved.EffectiveLoginID,
		Email:        resolved.Email,
		AuthMethod:   in.AuthMethod,
		PasswordHash: resolved.PasswordHash,
		PlatformRole: in.PlatformRole,
		Status:       status.Active,
	}

	created, err := h.users.Create(r.Context(), u)
	if err != nil {
		if errors.Is(err, userstore.ErrDuplicateLoginID) {
			jsonutil.Error(w, http.StatusConflict, "a user with this login ID already exists")
			return
		}
		h.logger.Error("failed to create user", zap.Error(err))
		jsonutil.InternalError(w, "failed to create user")
		return
	}

	actorID := actorObjectID(actor)
	h.auditLogger.UserCreated(r.Context(), r, actorID, created.ID, actorRole(actor), created.PlatformRole, created.AuthMethod)

	jsonutil.Created(w, toUserView(&created))
}

// handleGet returns one account.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	u, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	jsonutil.OK(w, toUserView(u))
}

type updateUserRequest struct {
	FullName     *string `json:"full_name"`
	PlatformRole *string `json:"platform_role"`
}

// handleUpdate updates an account's name or platform role. Demoting the
// last active admin is refused.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CurrentUser(r)
	u, ok := h.loadUser(w, r)
	if !ok {
		return
	}

	var in updateUserRequest
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	if in.FullName == nil && in.PlatformRole == nil {
		jsonutil.BadRequest(w, "nothing to update")
		return
	}
	if in.FullName != nil && strings.TrimSpace(*in.FullName) == "" {
		jsonutil.BadRequest(w, "full_name must not be empty")
		return
	}
	if in.PlatformRole != nil && !models.IsValidPlatformRole(*in.PlatformRole) {
		jsonutil.BadRequest(w, `platform_role must be "admin" or "member"`)
		return
	}

	if in.PlatformRole != nil && *in.PlatformRole != models.PlatformAdmin &&
		u.PlatformRole == models.PlatformAdmin && u.Status == status.Active {
		last, err := h.isLastActiveAdmin(r)
		if err != nil {
			jsonutil.InternalError(w, "failed to update user")
			return
		}
		if last {
			jsonutil.Error(w, http.StatusConflict, "cannot demote the last active admin")
			return
		}
	}

	if err := h.users.Update(r.Context(), u.ID, userstore.UpdateInput{
		FullName:     in.FullName,
		PlatformRole: in.PlatformRole,
	}); err != nil {
		h.logger.Error("failed to update user", zap.Error(err))
		jsonutil.InternalError(w, "failed to update user")
		return
	}

	var changed []string
	if in.FullName != nil {
		changed = append(changed, "full_name")
	}
	if in.PlatformRole != nil {
		changed = append(changed, "platform_role")
	}
	h.auditLogger.UserUpdated(r.Context(), r, actorObjectID(actor), u.ID, actorRole(actor), strings.Join(changed, ","))

	updated, err := h.users.GetByID(r.Context(), u.ID)
	if err != nil {
		jsonutil.InternalError(w, "failed to load user")
		return
	}
	jsonutil.OK(w, toUserView(updated))
}

// handleDisable disables an account. Self-disable and disabling the
// last active admin are refused.
func (h *Handler) handleDisable(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CurrentUser(r)
	u, ok := h.loadUser(w, r)
	if !ok {
		return
	}

	if actor != nil && actor.ID == u.ID.Hex() {
		jsonutil.Error(w, http.StatusConflict, "you cannot disable your own account")
		return
	}
	if u.PlatformRole == models.PlatformAdmin && u.Status == status.Active {
		last, err := h.isLastActiveAdmin(r)
		if err != nil {
			jsonutil.InternalError(w, "failed to disable user")
			return
		}
		if last {
			jsonutil.Error(w, http.StatusConflict, "cannot disable the last active admin")
			return
		}
	}

	if err := h.users.SetStatus(r.Context(), u.ID, status.Disabled); err != nil {
		h.logger.Error("failed to disable user", zap.Error(err))
		jsonutil.InternalError(w, "failed to disable user")
		return
	}

	h.auditLogger.UserDisabled(r.Context(), r, actorObjectID(actor), u.ID, actorRole(actor))
	jsonutil.NoContent(w)
}

// handleEnable re-enables a disabled account.
func (h *Handler) handleEnable(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CurrentUser(r)
	u, ok := h.loadUser(w, r)
	if !ok {
		return
	}

	if err := h.users.SetStatus(r.Context(), u.ID, status.Active); err != nil {
		h.logger.Error("failed to enable user", zap.Error(err))
		jsonutil.InternalError(w, "failed to enable user")
		return
	}

	h.auditLogger.UserEnabled(r.Context(), r, actorObjectID(actor), u.ID, actorRole(actor))
	jsonutil.NoContent(w)
}

// handleResetPassword sets a new password on a password-auth account.
func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	u, ok := h.loadUser(w, r)
	if !ok {
		return
	}
	if u.AuthMethod != "password" {
		jsonutil.BadRequest(w, "this account does not use password login")
		return
	}

	var in struct {
		Password string `json:"password"`
	}
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	if err := authutil.ValidatePassword(in.Password); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}

	hash, err := authutil.HashPassword(in.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		jsonutil.InternalError(w, "failed to reset password")
		return
	}
	if err := h.users.UpdatePassword(r.Context(), u.ID, hash); err != nil {
		h.logger.Error("failed to reset password", zap.Error(err))
		jsonutil.InternalError(w, "failed to reset password")
		return
	}

	h.auditLogger.PasswordChanged(r.Context(), r, u.ID, true)
	jsonutil.NoContent(w)
}

// handleDelete deletes an account. Self-delete and deleting the last
// active admin are refused. The user's group memberships are left to
// group teardown and roster views degrade to bare IDs.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CurrentUser(r)
	u, ok := h.loadUser(w, r)
	if !ok {
		return
	}

	if actor != nil && actor.ID == u.ID.Hex() {
		jsonutil.Error(w, http.StatusConflict, "you cannot delete your own account")
		return
	}
	if u.PlatformRole == models.PlatformAdmin && u.Status == status.Active {
		last, err := h.isLastActiveAdmin(r)
		if err != nil {
			jsonutil.InternalError(w, "failed to delete user")
			return
		}
		if last {
			jsonutil.Error(w, http.StatusConflict, "cannot delete the last active admin")
			return
		}
	}

	if _, err := h.users.Delete(r.Context(), u.ID); err != nil {
		h.logger.Error("failed to delete user", zap.Error(err))
		jsonutil.InternalError(w, "failed to delete user")
		return
	}

	h.auditLogger.UserDeleted(r.Context(), r, actorObjectID(actor), u.ID, actorRole(actor), u.PlatformRole)
	jsonutil.NoContent(w)
}

func (h *Handler) loadUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "userID"))
	if err != nil {
		jsonutil.BadRequest(w, "invalid user ID")
		return nil, false
	}
	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			jsonutil.NotFound(w, "user not found")
			return nil, false
		}
		h.logger.Error("failed to load user", zap.Error(err))
		jsonutil.InternalError(w, "failed to load user")
		return nil, false
	}
	return u, true
}

func (h *Handler) isLastActiveAdmin(r *http.Request) (bool, error) {
	n, err := h.users.CountActiveAdmins(r.Context())
	if err != nil {
		h.logger.Error("failed to count active admins", zap.Error(err))
		return false, err
	}
	return n <= 1, nil
}

func actorObjectID(actor *auth.SessionUser) primitive.ObjectID {
	if actor == nil {
		return primitive.NilObjectID
	}
	id, err := primitive.ObjectIDFromHex(actor.ID)
	if err != nil {
		return primitive.NilObjectID
	}
	return id
}

func actorRole(actor *auth.SessionUser) string {
	if actor == nil {
		return ""
	}
	return actor.PlatformRole
}
