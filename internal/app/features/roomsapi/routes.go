package roomsapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/harmonyroom/harmonyroom/internal/app/system/apicors"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
	"go.uber.org/zap"
)

// Routes returns a chi.Router with the rooms endpoints mounted.
// Presence and recording listing require a session; the recording
// webhook is authenticated with the shared API key instead (webhookKey
// empty disables it).
func Routes(h *Handler, sessionMgr *auth.SessionManager, webhookKey string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(apicors.Middleware())

	r.Group(func(r chi.Router) {
		r.Use(sessionMgr.LoadSessionUser)
		r.Use(sessionMgr.RequireSignedIn)

		r.Post("/{roomID}/join", h.handleJoin)
		r.Post("/{roomID}/leave", h.handleLeave)
		r.Get("/{roomID}/participants", h.handleListParticipants)
		r.Get("/groups/{groupID}/recordings", h.handleListRecordings)
	})

	if webhookKey != "" {
		r.Group(func(r chi.Router) {
			r.Use(auth.APIKeyAuth(webhookKey, logger))
			r.Post("/recordings", h.handleRecordingWebhook)
		})
	}

	return r
}
