package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/harmonyroom/harmonyroom/internal/app/system/apicors"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
)

// Routes returns a chi.Router with the admin user management endpoints
// mounted. Platform admin only.
func Routes(h *Handler, sessionMgr *auth.SessionManager) http.Handler {
	r := chi.NewRouter()
	r.Use(apicors.Middleware())
	r.Use(sessionMgr.LoadSessionUser)
	r.Use(sessionMgr.RequirePlatformRole(models.PlatformAdmin))

	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)

	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/disable", h.handleDisable)
		r.Post("/enable", h.handleEnable)
		r.Post("/reset-password", h.handleResetPassword)
	})

	return r
}
