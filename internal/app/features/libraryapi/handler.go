// Package libraryapi provides the JSON endpoints for a group's shared
// library: the folder hierarchy, file uploads and downloads, and the
// browsable tree.
//
// All endpoints are group-scoped and resolve the caller's role from
// their membership row; platform admins act as teachers. Write access
// is enforced by the workspace service, so handlers here only translate
// its errors to HTTP statuses.
package libraryapi

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/harmonyroom/harmonyroom/internal/app/store/audit"
	memberstore "github.com/harmonyroom/harmonyroom/internal/app/store/member"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auditlog"
	"github.com/harmonyroom/harmonyroom/internal/app/system/authz"
	"github.com/harmonyroom/harmonyroom/internal/app/system/jsonutil"
	"github.com/harmonyroom/harmonyroom/internal/app/workspace"
	"github.com/harmonyroom/harmonyroom/internal/domain/errs"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// maxUploadBytes caps a single upload request body.
const maxUploadBytes = 200 << 20 // 200 MiB

// Handler provides the library API handlers.
type Handler struct {
	members     *memberstore.Store
	workspace   *workspace.Service
	auditLogger *auditlog.Logger
	logger      *zap.Logger
}

// NewHandler creates a libraryapi Handler.
func NewHandler(db *mongo.Database, ws *workspace.Service, auditLogger *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		members:     memberstore.New(db),
		workspace:   ws,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

func (h *Handler) actor(r *http.Request, groupID primitive.ObjectID) (workspace.Actor, error) {
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

/*─────────────────────────────────────────────────────────────────────────────*
| Browse                                                                      |
*─────────────────────────────────────────────────────────────────────────────*/

// handleTree returns the group's full folder/file forest.
func (h *Handler) handleTree(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	if _, err := h.actor(r, groupID); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	tree, err := h.workspace.Tree(r.Context(), groupID)
	if err != nil {
		h.logger.Error("failed to build library tree",
			zap.String("group_id", groupID.Hex()),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to load library")
		return
	}
	jsonutil.OK(w, tree)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Folders                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

type folderResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	GroupID  string  `json:"group_id"`
	ParentID *string `json:"parent_id,omitempty"`
	IsSystem bool    `json:"is_system"`
}

func toFolderResponse(f *models.Folder) folderResponse {
	out := folderResponse{
		ID:       f.ID.Hex(),
		Name:     f.Name,
		GroupID:  f.GroupID.Hex(),
		IsSystem: f.IsSystem,
	}
	if f.ParentID != nil {
		hex := f.ParentID.Hex()
		out.ParentID = &hex
	}
	return out
}

// handleCreateFolder creates a folder under an optional parent.
func (h *Handler) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	actor, err := h.actor(r, groupID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	var in struct {
		Name     string  `json:"name"`
		ParentID *string `json:"parent_id"`
	}
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	parentID, ok := parseOptionalID(w, in.ParentID, "parent_id")
	if !ok {
		return
	}

	f, err := h.workspace.CreateFolder(r.Context(), actor, groupID, parentID, in.Name)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	h.auditLogger.WorkspaceEvent(r.Context(), r, actor.UserID, groupID, audit.EventFolderCreated, map[string]string{
		"folder_id": f.ID.Hex(),
		"name":      f.Name,
	})
	jsonutil.Created(w, toFolderResponse(f))
}

// handleRenameFolder renames a folder.
func (h *Handler) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	folderID, ok := parsePathID(w, r, "folderID")
	if !ok {
		return
	}
	actor, err := h.actor(r, groupID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	if !h.folderInGroup(w, r, folderID, groupID) {
		return
	}

	var in struct {
		Name string `json:"name"`
	}
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}

	f, err := h.workspace.RenameFolder(r.Context(), actor, folderID, in.Name)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	h.auditLogger.WorkspaceEvent(r.Context(), r, actor.UserID, groupID, audit.EventFolderRenamed, map[string]string{
		"folder_id": f.ID.Hex(),
		"name":      f.Name,
	})
	jsonutil.OK(w, toFolderResponse(f))
}

// handleMoveFolder re-parents a folder. A null parent_id moves it to
// the root.
func (h *Handler) handleMoveFolder(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	folderID, ok := parsePathID(w, r, "folderID")
	if !ok {
		return
	}
	actor, err := h.actor(r, groupID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	if !h.folderInGroup(w, r, folderID, groupID) {
		return
	}

	var in struct {
		ParentID *string `json:"parent_id"`
	}
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	parentID, ok := parseOptionalID(w, in.ParentID, "parent_id")
	if !ok {
		return
	}

	if err := h.workspace.MoveFolder(r.Context(), actor, folderID, parentID); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	h.auditLogger.WorkspaceEvent(r.Context(), r, actor.UserID, groupID, audit.EventFolderMoved, map[string]string{
		"folder_id": folderID.Hex(),
	})
	jsonutil.NoContent(w)
}

// handleDeleteFolder deletes a folder. Pass ?recursive=true to delete a
// non-empty folder together with its contents.
func (h *Handler) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	folderID, ok := parsePathID(w, r, "folderID")
	if !ok {
		return
	}
	actor, err := h.actor(r, groupID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	if !h.folderInGroup(w, r, folderID, groupID) {
		return
	}

	recursive, _ := strconv.ParseBool(r.URL.Query().Get("recursive"))

	if err := h.workspace.DeleteFolder(r.Context(), actor, folderID, recursive); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	h.auditLogger.WorkspaceEvent(r.Context(), r, actor.UserID, groupID, audit.EventFolderDeleted, map[string]string{
		"folder_id": folderID.Hex(),
		"recursive": strconv.FormatBool(recursive),
	})
	jsonutil.NoContent(w)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Files                                                                       |
*─────────────────────────────────────────────────────────────────────────────*/

// handleListFiles lists files in one folder (?folder_id=...) or at the
// group root when the parameter is absent.
func (h *Handler) handleListFiles(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	if _, err := h.actor(r, groupID); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	var folderID *primitive.ObjectID
	if raw := r.URL.Query().Get("folder_id"); raw != "" {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			jsonutil.BadRequest(w, "invalid folder_id")
			return
		}
		folderID = &id
	}

	files, err := h.workspace.ListFiles(r.Context(), groupID, folderID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	out := make([]models.FileWithURL, 0, len(files))
	for i := range files {
		out = append(out, h.workspace.ResolveURL(&files[i]))
	}
	jsonutil.OK(w, out)
}

// handleUploadFile accepts a multipart upload. Fields:
//
//	file        (required) the file part
//	folder_id   (optional) destination folder, group root when absent
//	name        (optional) overrides the part's filename
//	is_editable (optional) "true" to allow students to edit
func (h *Handler) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return
	}
	actor, err := h.actor(r, groupID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonutil.BadRequest(w, "invalid multipart payload")
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		jsonutil.BadRequest(w, `missing "file" part`)
		return
	}
	defer part.Close()

	folderID, ok := parseOptionalID(w, formValuePtr(r, "folder_id"), "folder_id")
	if !ok {
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = filepath.Base(header.Filename)
	}
	isEditable, _ := strconv.ParseBool(r.FormValue("is_editable"))

	f, err := h.workspace.UploadFile(r.Context(), actor, workspace.UploadInput{
		GroupID:     groupID,
		FolderID:    folderID,
		Name:        name,
		ContentType: partContentType(header),
		Size:        header.Size,
		IsEditable:  isEditable,
		Content:     part,
	})
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	h.auditLogger.WorkspaceEvent(r.Context(), r, actor.UserID, groupID, audit.EventFileUploaded, map[string]string{
		"file_id": f.ID.Hex(),
		"name":    f.Name,
	})
	jsonutil.Created(w, h.workspace.ResolveURL(f))
}

// handleGetFile returns one file's metadata with its resolved URL.
func (h *Handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	groupID, f, ok := h.loadGroupFile(w, r)
	if !ok {
		return
	}
	if _, err := h.actor(r, groupID); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	jsonutil.OK(w, h.workspace.ResolveURL(f))
}

// handleDownloadFile streams the file's bytes.
func (h *Handler) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	groupID, f, ok := h.loadGroupFile(w, r)
	if !ok {
		return
	}
	if _, err := h.actor(r, groupID); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	rc, err := h.workspace.Open(r.Context(), f)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	defer rc.Close()

	if f.ContentType != "" {
		w.Header().Set("Content-Type", f.ContentType)
	}
	if f.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+sanitizeFilename(f.Name)+`"`)

	if _, err := io.Copy(w, rc); err != nil {
		// Headers are already out; just note the broken transfer.
		h.logger.Warn("file download interrupted",
			zap.String("file_id", f.ID.Hex()),
			zap.Error(err))
	}
}

// handleRenameFile renames a file.
func (h *Handler) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	groupID, f, ok := h.loadGroupFile(w, r)
	if !ok {
		return
	}
	actor, err := h.actor(r, groupID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	var in struct {
		Name string `json:"name"`
	}
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}

	updated, err := h.workspace.RenameFile(r.Context(), actor, f.ID, in.Name)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	h.auditLogger.WorkspaceEvent(r.Context(), r, actor.UserID, groupID, audit.EventFileRenamed, map[string]string{
		"file_id": updated.ID.Hex(),
		"name":    updated.Name,
	})
	jsonutil.OK(w, h.workspace.ResolveURL(updated))
}

// handleMoveFile moves a file into another folder. A null folder_id
// moves it to the group root.
func (h *Handler) handleMoveFile(w http.ResponseWriter, r *http.Request) {
	groupID, f, ok := h.loadGroupFile(w, r)
	if !ok {
		return
	}
	actor, err := h.actor(r, groupID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	var in struct {
		FolderID *string `json:"folder_id"`
	}
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	folderID, ok := parseOptionalID(w, in.FolderID, "folder_id")
	if !ok {
		return
	}

	if err := h.workspace.MoveFile(r.Context(), actor, f.ID, folderID); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	h.auditLogger.WorkspaceEvent(r.Context(), r, actor.UserID, groupID, audit.EventFileMoved, map[string]string{
		"file_id": f.ID.Hex(),
	})
	jsonutil.NoContent(w)
}

// handleDeleteFile deletes a file's metadata and blob.
func (h *Handler) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	groupID, f, ok := h.loadGroupFile(w, r)
	if !ok {
		return
	}
	actor, err := h.actor(r, groupID)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}

	if err := h.workspace.DeleteFile(r.Context(), actor, f.ID); err != nil {
		writeWorkspaceError(w, err)
		return
	}

	h.auditLogger.WorkspaceEvent(r.Context(), r, actor.UserID, groupID, audit.EventFileDeleted, map[string]string{
		"file_id": f.ID.Hex(),
		"name":    f.Name,
	})
	jsonutil.NoContent(w)
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

// loadGroupFile loads the path file and confirms it belongs to the path
// group, so a file ID from one group cannot be addressed through
// another group's URL.
func (h *Handler) loadGroupFile(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, *models.File, bool) {
	groupID, ok := parseGroupID(w, r)
	if !ok {
		return primitive.NilObjectID, nil, false
	}
	fileID, ok := parsePathID(w, r, "fileID")
	if !ok {
		return primitive.NilObjectID, nil, false
	}
	f, err := h.workspace.GetFile(r.Context(), fileID)
	if err != nil {
		writeWorkspaceError(w, err)
		return primitive.NilObjectID, nil, false
	}
	if f.GroupID != groupID {
		jsonutil.NotFound(w, "file not found")
		return primitive.NilObjectID, nil, false
	}
	return groupID, f, true
}

// folderInGroup confirms the path folder belongs to the path group.
func (h *Handler) folderInGroup(w http.ResponseWriter, r *http.Request, folderID, groupID primitive.ObjectID) bool {
	f, err := h.workspace.GetFolder(r.Context(), folderID)
	if err != nil {
		writeWorkspaceError(w, err)
		return false
	}
	if f.GroupID != groupID {
		jsonutil.NotFound(w, "folder not found")
		return false
	}
	return true
}

func parseGroupID(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	return parsePathID(w, r, "groupID")
}

func parsePathID(w http.ResponseWriter, r *http.Request, param string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, param))
	if err != nil {
		jsonutil.BadRequest(w, "invalid "+param)
		return primitive.NilObjectID, false
	}
	return id, true
}

func parseOptionalID(w http.ResponseWriter, raw *string, field string) (*primitive.ObjectID, bool) {
	if raw == nil || *raw == "" {
		return nil, true
	}
	id, err := primitive.ObjectIDFromHex(*raw)
	if err != nil {
		jsonutil.BadRequest(w, "invalid "+field)
		return nil, false
	}
	return &id, true
}

func formValuePtr(r *http.Request, field string) *string {
	v := r.FormValue(field)
	if v == "" {
		return nil
	}
	return &v
}

func partContentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `"`, "")
	name = strings.ReplaceAll(name, "\r", "")
	return strings.ReplaceAll(name, "\n", "")
}

// writeWorkspaceError maps workspace and membership errors to HTTP
// statuses.
func writeWorkspaceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrPermissionDenied):
		jsonutil.Forbidden(w, "permission denied")
	case errors.Is(err, errs.ErrNotAMember):
		jsonutil.Forbidden(w, "not a member of this group")
	case errors.Is(err, errs.ErrSystemFolderImmutable):
		jsonutil.Forbidden(w, "system folders cannot be modified")
	case errors.Is(err, errs.ErrNotFound):
		jsonutil.NotFound(w, "not found")
	case errors.Is(err, errs.ErrNameConflict):
		jsonutil.Error(w, http.StatusConflict, "an item with that name already exists here")
	case errors.Is(err, errs.ErrFolderNotEmpty):
		jsonutil.Error(w, http.StatusConflict, "folder is not empty")
	case errors.Is(err, errs.ErrCycleDetected):
		jsonutil.Error(w, http.StatusConflict, "cannot move a folder into its own subtree")
	case errors.Is(err, errs.ErrCrossGroupMove):
		jsonutil.Error(w, http.StatusUnprocessableEntity, "destination belongs to a different group")
	case errors.Is(err, errs.ErrInvalidParent):
		jsonutil.Error(w, http.StatusUnprocessableEntity, "invalid parent folder")
	case errors.Is(err, errs.ErrInvalidFolder):
		jsonutil.Error(w, http.StatusUnprocessableEntity, "invalid folder")
	case errors.Is(err, errs.ErrExternalDependency):
		jsonutil.Error(w, http.StatusBadGateway, "storage backend unavailable")
	default:
		jsonutil.InternalError(w, "internal error")
	}
}
