// internal/app/features/status/routes.go
package status

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/harmonyroom/harmonyroom/internal/app/system/apicors"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
	"github.com/harmonyroom/harmonyroom/internal/domain/models"
)

// Routes returns a chi.Router with status routes mounted. Platform
// admin only.
func Routes(h *Handler, sessionMgr *auth.SessionManager) http.Handler {
	r := chi.NewRouter()
	r.Use(apicors.Middleware())
	r.Use(sessionMgr.LoadSessionUser)
	r.Use(sessionMgr.RequirePlatformRole(models.PlatformAdmin))
	r.Get("/", h.Serve)
	r.Post("/renew", h.HandleRenew)
	return r
}
