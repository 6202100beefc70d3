// Package groupsapi provides the group and membership JSON endpoints.
//
// A group is the tenancy boundary: creating one seeds its system root
// folder, and deleting one tears down members, workspace contents, and
// recording rows in that order. The creator is enrolled as the group's
// first teacher.
package groupsapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/harmonyroom/harmonyroom/internal/app/store/audit"
	groupstore "github.com/harmonyroom/harmonyroom/internal/app/store/group"
	memberstore "github.com/harmonyroom/harmonyroom/internal/app/store/member"
	recordingstore "github.com/harmonyroom/harmonyroom/internal/app/store/recording"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auditlog"
	"github.com/harmonyroom/harmonyroom/internal/app/system/authz"
	"github.com/harmonyroom/harmonyroom/internal/app/system/htmlsanitize"
	"github.com/harmonyroom/harmonyroom/internal/app/system/jsonutil"
	"github.com/harmonyroom/harmonyroom/internal/app/system/userdir"
	"github.com/harmonyroom/harmonyroom/internal/app/workspace"
	"github.com/harmonyroom/harmonyroom/internal/domain/errs"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Handler provides group and membership handlers.
type Handler struct {
	groups      *groupstore.Store
	members     *memberstore.Store
	recordings  *recordingstore.Store
	workspace   *workspace.Service
	directory   *userdir.Directory
	auditLogger *auditlog.Logger
	logger      *zap.Logger
}

// NewHandler creates a groupsapi Handler.
func NewHandler(db *mongo.Database, ws *workspace.Service, directory *userdir.Directory, auditLogger *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		groups:      groupstore.New(db),
		members:     memberstore.New(db),
		recordings:  recordingstore.New(db),
		workspace:   ws,
		directory:   directory,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

type groupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type groupResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedByID string `json:"created_by_id"`
	MyRole      string `json:"my_role,omitempty"`
}

func toGroupResponse(g *models.Group, myRole models.Role) groupResponse {
	return groupResponse{
		ID:          g.ID.Hex(),
		Name:        g.Name,
		Description: g.Description,
		CreatedByID: g.CreatedByID.Hex(),
		MyRole:      string(myRole),
	}
}

// actorRole resolves the requesting user's role in the group. Platform
// admins act as teachers everywhere; everyone else needs a membership
// row.
func (h *Handler) actorRole(r *http.Request, groupID primitive.ObjectID) (workspace.Actor, error) {
	_, _, userID, ok := authz.UserCtx(r)
	if !ok {
		return workspace.Actor{}, errs.ErrPermissionDenied
	}
	if authz.IsPlatformAdmin(r) {
		return workspace.Actor{UserID: userID, Role: models.RoleTeacher}, nil
	}
	role, err := h.members.GetRole(r.Context(), groupID, userID)
	if err != nil {
		return workspace.Actor{}, err
	}
	return workspace.Actor{UserID: userID, Role: role}, nil
}

// handleCreateGroup creates a group, enrolls the creator as teacher, and
// seeds the system root folder.
func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	_, _, userID, ok := authz.UserCtx(r)
	if !ok {
		jsonutil.Unauthorized(w, "not signed in")
		return
	}

	var in groupRequest
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		jsonutil.BadRequest(w, "name is required")
		return
	}
	// Descriptions come from a rich-text editor; strip anything unsafe.
	in.Description = htmlsanitize.Sanitize(in.Description)

	g, err := h.groups.Create(r.Context(), groupstore.CreateInput{
		Name:        in.Name,
		Description: in.Description,
		CreatedByID: userID,
	})
	if err != nil {
		h.logger.Error("failed to create group", zap.Error(err))
		jsonutil.InternalError(w, "failed to create group")
		return
	}

	if _, err := h.members.Add(r.Context(), g.ID, userID, models.RoleTeacher); err != nil {
		h.logger.Error("failed to enroll group creator",
			zap.String("group_id", g.ID.Hex()),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to create group")
		return
	}

	if _, err := h.workspace.CreateSystemRoot(r.Context(), g.ID, userID); err != nil {
		h.logger.Error("failed to seed system root folder",
			zap.String("group_id", g.ID.Hex()),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to create group")
		return
	}

	h.auditLogger.GroupEvent(r.Context(), r, userID, g.ID, audit.EventGroupCreated, map[string]string{
		"name": g.Name,
	})

	jsonutil.Created(w, toGroupResponse(g, models.RoleTeacher))
}

// handleListGroups lists the groups the requesting user belongs to.
// Platform admins see every group.
func (h *Handler) handleListGroups(w http.ResponseWriter, r *http.Request) {
	_, _, userID, ok := authz.UserCtx(r)
	if !ok {
		jsonutil.Unauthorized(w, "not signed in")
		return
	}

	if authz.IsPlatformAdmin(r) {
		all, err := h.groups.List(r.Context())
		if err != nil {
			h.logger.Error("failed to list groups", zap.Error(err))
			jsonutil.InternalError(w, "failed to list groups")
			return
		}
		out := make([]groupResponse, 0, len(all))
		for i := range all {
			out = append(out, toGroupResponse(&all[i], ""))
		}
		jsonutil.OK(w, out)
		return
	}

	memberships, err := h.members.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list memberships", zap.Error(err))
		jsonutil.InternalError(w, "failed to list groups")
		return
	}
	roleByGroup := make(map[primitive.ObjectID]models.Role, len(memberships))
	ids := make([]primitive.ObjectID, 0, len(memberships))
	for _, m := range memberships {
		roleByGroup[m.GroupID] = m.Role
		ids = append(ids, m.GroupID)
	}

	groups, err := h.groups.ListByIDs(r.Context(), ids)
	if err != nil {
		h.logger.Error("failed to load groups", zap.Error(err))
		jsonutil.InternalError(w, "failed to list groups")
		return
	}

	out := make([]groupResponse, 0, len(groups))
	for i := range groups {
		out = append(out, toGroupResponse(&groups[i], roleByGroup[groups[i].ID]))
	}
	jsonutil.OK(w, out)
}

// handleGetGroup returns one group with its enriched member roster.
func (h *Handler) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}

	actor, err := h.actorRole(r, groupID)
	if err != nil {
		writeMembershipError(w, err)
		return
	}

	g, err := h.groups.GetByID(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			jsonutil.NotFound(w, "group not found")
			return
		}
		h.logger.Error("failed to load group", zap.Error(err))
		jsonutil.InternalError(w, "failed to load group")
		return
	}

	members, err := h.listMemberViews(r, groupID)
	if err != nil {
		h.logger.Error("failed to list members", zap.Error(err))
		jsonutil.InternalError(w, "failed to load group")
		return
	}

	jsonutil.OK(w, map[string]any{
		"group":   toGroupResponse(g, actor.Role),
		"members": members,
	})
}

// handleUpdateGroup updates a group's name or description. Teacher only.
func (h *Handler) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	actor, err := h.requireTeacher(r, groupID)
	if err != nil {
		writeMembershipError(w, err)
		return
	}

	var in struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		if trimmed == "" {
			jsonutil.BadRequest(w, "name must not be empty")
			return
		}
		in.Name = &trimmed
	}
	if in.Name == nil && in.Description == nil {
		jsonutil.BadRequest(w, "nothing to update")
		return
	}
	if in.Description != nil {
		clean := htmlsanitize.Sanitize(*in.Description)
		in.Description = &clean
	}

	if err := h.groups.Update(r.Context(), groupID, groupstore.UpdateInput{
		Name:        in.Name,
		Description: in.Description,
	}); err != nil {
		h.logger.Error("failed to update group", zap.Error(err))
		jsonutil.InternalError(w, "failed to update group")
		return
	}

	h.auditLogger.GroupEvent(r.Context(), r, actor.UserID, groupID, audit.EventGroupUpdated, nil)

	g, err := h.groups.GetByID(r.Context(), groupID)
	if err != nil {
		jsonutil.InternalError(w, "failed to load group")
		return
	}
	jsonutil.OK(w, toGroupResponse(g, actor.Role))
}

// handleDeleteGroup tears a group down: workspace contents first, then
// recordings, members, and finally the group row, so an interrupted
// teardown leaves the group addressable for a retry.
func (h *Handler) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	actor, err := h.requireTeacher(r, groupID)
	if err != nil {
		writeMembershipError(w, err)
		return
	}

	g, err := h.groups.GetByID(r.Context(), groupID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			jsonutil.NotFound(w, "group not found")
			return
		}
		jsonutil.InternalError(w, "failed to load group")
		return
	}

	if err := h.workspace.TeardownGroup(r.Context(), groupID); err != nil {
		h.logger.Error("group workspace teardown failed",
			zap.String("group_id", groupID.Hex()),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to delete group")
		return
	}
	if err := h.recordings.DeleteByGroup(r.Context(), groupID); err != nil {
		h.logger.Error("failed to delete group recordings",
			zap.String("group_id", groupID.Hex()),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to delete group")
		return
	}
	if err := h.members.RemoveByGroup(r.Context(), groupID); err != nil {
		h.logger.Error("failed to remove group members",
			zap.String("group_id", groupID.Hex()),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to delete group")
		return
	}
	if err := h.groups.Delete(r.Context(), groupID); err != nil {
		h.logger.Error("failed to delete group row",
			zap.String("group_id", groupID.Hex()),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to delete group")
		return
	}

	h.auditLogger.GroupEvent(r.Context(), r, actor.UserID, groupID, audit.EventGroupDeleted, map[string]string{
		"name": g.Name,
	})

	jsonutil.NoContent(w)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Membership                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

// handleListMembers returns the group roster in join order, enriched
// with names from the user directory (bare IDs when the directory is
// unavailable).
func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	if _, err := h.actorRole(r, groupID); err != nil {
		writeMembershipError(w, err)
		return
	}

	members, err := h.listMemberViews(r, groupID)
	if err != nil {
		h.logger.Error("failed to list members", zap.Error(err))
		jsonutil.InternalError(w, "failed to list members")
		return
	}
	jsonutil.OK(w, members)
}

// handleAddMember enrolls a user. Teacher only.
func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	actor, err := h.requireTeacher(r, groupID)
	if err != nil {
		writeMembershipError(w, err)
		return
	}

	var in struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	userID, err := primitive.ObjectIDFromHex(in.UserID)
	if err != nil {
		jsonutil.BadRequest(w, "invalid user_id")
		return
	}
	role := models.Role(in.Role)
	if !role.IsValid() {
		jsonutil.BadRequest(w, `role must be "teacher" or "student"`)
		return
	}

	m, err := h.members.Add(r.Context(), groupID, userID, role)
	if err != nil {
		if errors.Is(err, errs.ErrDuplicateMember) {
			jsonutil.Error(w, http.StatusConflict, "user is already a member of this group")
			return
		}
		h.logger.Error("failed to add member", zap.Error(err))
		jsonutil.InternalError(w, "failed to add member")
		return
	}

	h.auditLogger.MemberEvent(r.Context(), r, actor.UserID, userID, groupID, audit.EventMemberAdded, string(role))

	jsonutil.Created(w, models.MemberView{
		ID:        m.ID,
		UserID:    m.UserID,
		Role:      m.Role,
		CreatedAt: m.CreatedAt,
	})
}

// handleChangeRole changes a member's role. Teacher only.
func (h *Handler) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	actor, err := h.requireTeacher(r, groupID)
	if err != nil {
		writeMembershipError(w, err)
		return
	}
	userID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "userID"))
	if err != nil {
		jsonutil.BadRequest(w, "invalid user ID")
		return
	}

	var in struct {
		Role string `json:"role"`
	}
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	role := models.Role(in.Role)
	if !role.IsValid() {
		jsonutil.BadRequest(w, `role must be "teacher" or "student"`)
		return
	}

	if err := h.members.ChangeRole(r.Context(), groupID, userID, role); err != nil {
		if errors.Is(err, errs.ErrNotAMember) {
			jsonutil.NotFound(w, "user is not a member of this group")
			return
		}
		h.logger.Error("failed to change member role", zap.Error(err))
		jsonutil.InternalError(w, "failed to change role")
		return
	}

	h.auditLogger.MemberEvent(r.Context(), r, actor.UserID, userID, groupID, audit.EventMemberRoleChanged, string(role))
	jsonutil.NoContent(w)
}

// handleRemoveMember removes a member. Teachers remove anyone; a member
// may remove themself (leave the group).
func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	userID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "userID"))
	if err != nil {
		jsonutil.BadRequest(w, "invalid user ID")
		return
	}

	actor, err := h.actorRole(r, groupID)
	if err != nil {
		writeMembershipError(w, err)
		return
	}
	if !actor.Role.IsTeacher() && actor.UserID != userID {
		jsonutil.Forbidden(w, "only teachers may remove other members")
		return
	}

	if err := h.members.Remove(r.Context(), groupID, userID); err != nil {
		if errors.Is(err, errs.ErrNotAMember) {
			jsonutil.NotFound(w, "user is not a member of this group")
			return
		}
		h.logger.Error("failed to remove member", zap.Error(err))
		jsonutil.InternalError(w, "failed to remove member")
		return
	}

	h.auditLogger.MemberEvent(r.Context(), r, actor.UserID, userID, groupID, audit.EventMemberRemoved, "")
	jsonutil.NoContent(w)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

func (h *Handler) requireTeacher(r *http.Request, groupID primitive.ObjectID) (workspace.Actor, error) {
	actor, err := h.actorRole(r, groupID)
	if err != nil {
		return workspace.Actor{}, err
	}
	if !actor.Role.IsTeacher() {
		return workspace.Actor{}, errs.ErrPermissionDenied
	}
	return actor, nil
}

func (h *Handler) listMemberViews(r *http.Request, groupID primitive.ObjectID) ([]models.MemberView, error) {
	members, err := h.members.ListByGroup(r.Context(), groupID)
	if err != nil {
		return nil, err
	}

	ids := make([]primitive.ObjectID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	profiles := h.directory.Lookup(r.Context(), ids)

	out := make([]models.MemberView, 0, len(members))
	for _, m := range members {
		p := profiles[m.UserID]
		out = append(out, models.MemberView{
			ID:        m.ID,
			UserID:    m.UserID,
			Role:      m.Role,
			Name:      p.FullName,
			Email:     p.Email,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

func parseGroupID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "groupID"))
	if err != nil {
		jsonutil.BadRequest(w, "invalid group ID")
		return primitive.NilObjectID, false
	}
	return id, true
}

func writeMembershipError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrPermissionDenied):
		jsonutil.Forbidden(w, "permission denied")
	case errors.Is(err, errs.ErrNotAMember):
		jsonutil.Forbidden(w, "not a member of this group")
	default:
		jsonutil.InternalError(w, "internal error")
	}
}
