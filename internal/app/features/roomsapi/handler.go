// Package roomsapi provides the live-room presence and recordings
// endpoints.
//
// Presence is in-memory only: join and leave mutate the process-local
// registry and a participant's in-room role is always derived from the
// preset they joined with. Recordings are registered by the video-room
// provider through an API-key-protected webhook and listed per meeting
// by group members.
package roomsapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	memberstore "github.com/harmonyroom/harmonyroom/internal/app/store/member"
	recordingstore "github.com/harmonyroom/harmonyroom/internal/app/store/recording"
	"github.com/harmonyroom/harmonyroom/internal/app/rooms"
	"github.com/harmonyroom/harmonyroom/internal/app/system/authz"
	"github.com/harmonyroom/harmonyroom/internal/app/system/jsonutil"
	"github.com/harmonyroom/harmonyroom/internal/app/workspace"
	"github.com/harmonyroom/harmonyroom/internal/domain/errs"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Handler provides the rooms API handlers.
type Handler struct {
	registry   *rooms.Registry
	members    *memberstore.Store
	recordings *recordingstore.Store
	blobs      workspace.BlobStore
	logger     *zap.Logger
}

// NewHandler creates a roomsapi Handler.
func NewHandler(db *mongo.Database, registry *rooms.Registry, blobs workspace.BlobStore, logger *zap.Logger) *Handler {
	return &Handler{
		registry:   registry,
		members:    memberstore.New(db),
		recordings: recordingstore.New(db),
		blobs:      blobs,
		logger:     logger,
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Presence                                                                    |
*─────────────────────────────────────────────────────────────────────────────*/

type joinRequest struct {
	Name       string `json:"name"`
	PresetName string `json:"preset_name"`
}

// handleJoin records the session user entering a room. The in-room role
// comes from the preset, not from the request.
func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	_, name, userID, ok := authz.UserCtx(r)
	if !ok {
		jsonutil.Unauthorized(w, "not signed in")
		return
	}
	roomID := chi.URLParam(r, "roomID")

	var in joinRequest
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(in.Name) != "" {
		name = strings.TrimSpace(in.Name)
	}

	p := h.registry.Join(roomID, models.RoomParticipant{
		ID:         userID.Hex(),
		Name:       name,
		PresetName: in.PresetName,
	})
	jsonutil.OK(w, p)
}

// handleLeave removes the session user from a room. Leaving a room the
// user is not in is a no-op, not an error.
func (h *Handler) handleLeave(w http.ResponseWriter, r *http.Request) {
	_, _, userID, ok := authz.UserCtx(r)
	if !ok {
		jsonutil.Unauthorized(w, "not signed in")
		return
	}
	h.registry.Leave(chi.URLParam(r, "roomID"), userID.Hex())
	jsonutil.NoContent(w)
}

// handleListParticipants returns everyone currently in a room.
func (h *Handler) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	if _, _, _, ok := authz.UserCtx(r); !ok {
		jsonutil.Unauthorized(w, "not signed in")
		return
	}
	jsonutil.OK(w, h.registry.List(chi.URLParam(r, "roomID")))
}

/*─────────────────────────────────────────────────────────────────────────────*
| Recordings                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

// handleListRecordings lists one meeting's recordings for group members,
// newest first, with playback URLs resolved at read time.
func (h *Handler) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	_, _, userID, ok := authz.UserCtx(r)
	if !ok {
		jsonutil.Unauthorized(w, "not signed in")
		return
	}
	groupID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "groupID"))
	if err != nil {
		jsonutil.BadRequest(w, "invalid group ID")
		return
	}
	meetingName := r.URL.Query().Get("meeting_name")
	if meetingName == "" {
		jsonutil.BadRequest(w, "meeting_name is required")
		return
	}

	if !authz.IsPlatformAdmin(r) {
		if _, err := h.members.GetRole(r.Context(), groupID, userID); err != nil {
			if errors.Is(err, errs.ErrNotAMember) {
				jsonutil.Forbidden(w, "not a member of this group")
				return
			}
			h.logger.Error("membership lookup failed", zap.Error(err))
			jsonutil.InternalError(w, "failed to list recordings")
			return
		}
	}

	recs, err := h.recordings.ListByMeeting(r.Context(), meetingName)
	if err != nil {
		h.logger.Error("failed to list recordings", zap.Error(err))
		jsonutil.InternalError(w, "failed to list recordings")
		return
	}

	out := make([]models.RecordingView, 0, len(recs))
	for _, rec := range recs {
		if rec.GroupID != groupID {
			continue
		}
		out = append(out, models.RecordingView{
			ID:           rec.ID,
			Name:         rec.Name,
			MeetingName:  rec.MeetingName,
			Size:         rec.Size,
			Duration:     rec.Duration,
			LastModified: rec.LastModified,
			URL:          h.blobs.URL(rec.StoragePath),
		})
	}
	jsonutil.OK(w, out)
}

type recordingWebhook struct {
	Name         string    `json:"name"`
	MeetingName  string    `json:"meeting_name"`
	GroupID      string    `json:"group_id"`
	Size         int64     `json:"size"`
	Duration     int64     `json:"duration"`
	StoragePath  string    `json:"storage_path"`
	LastModified time.Time `json:"last_modified"`
}

// handleRecordingWebhook registers a completed recording. Called by the
// video-room provider, authenticated with the shared API key rather
// than a session.
func (h *Handler) handleRecordingWebhook(w http.ResponseWriter, r *http.Request) {
	var in recordingWebhook
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, "invalid JSON payload")
		return
	}
	groupID, err := primitive.ObjectIDFromHex(in.GroupID)
	if err != nil {
		jsonutil.BadRequest(w, "invalid group_id")
		return
	}
	if in.MeetingName == "" || in.StoragePath == "" {
		jsonutil.BadRequest(w, "meeting_name and storage_path are required")
		return
	}
	if in.Name == "" {
		in.Name = in.MeetingName
	}
	if in.LastModified.IsZero() {
		in.LastModified = time.Now()
	}

	rec, err := h.recordings.Create(r.Context(), recordingstore.CreateInput{
		Name:         in.Name,
		MeetingName:  in.MeetingName,
		GroupID:      groupID,
		Size:         in.Size,
		Duration:     in.Duration,
		StoragePath:  in.StoragePath,
		LastModified: in.LastModified,
	})
	if err != nil {
		h.logger.Error("failed to register recording",
			zap.String("meeting_name", in.MeetingName),
			zap.Error(err))
		jsonutil.InternalError(w, "failed to register recording")
		return
	}

	h.logger.Info("recording registered",
		zap.String("recording_id", rec.ID.Hex()),
		zap.String("meeting_name", rec.MeetingName),
		zap.String("group_id", groupID.Hex()))

	jsonutil.Created(w, models.RecordingView{
		ID:           rec.ID,
		Name:         rec.Name,
		MeetingName:  rec.MeetingName,
		Size:         rec.Size,
		Duration:     rec.Duration,
		LastModified: rec.LastModified,
		URL:          h.blobs.URL(rec.StoragePath),
	})
}
