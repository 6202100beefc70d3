package groupsapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/harmonyroom/harmonyroom/internal/app/system/apicors"
	"github.com/harmonyroom/harmonyroom/internal/app/system/auth"
)

// Routes returns a chi.Router with the group endpoints mounted. All
// endpoints require a signed-in session. library, if non-nil, is
// mounted under /{groupID}/library so it inherits the groupID binding.
func Routes(h *Handler, sessionMgr *auth.SessionManager, library http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(apicors.Middleware())
	r.Use(sessionMgr.LoadSessionUser)
	r.Use(sessionMgr.RequireSignedIn)

	r.Post("/", h.handleCreateGroup)
	r.Get("/", h.handleListGroups)

	r.Route("/{groupID}", func(r chi.Router) {
		r.Get("/", h.handleGetGroup)
		r.Patch("/", h.handleUpdateGroup)
		r.Delete("/", h.handleDeleteGroup)

		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.handleListMembers)
			r.Post("/", h.handleAddMember)
			r.Patch("/{userID}", h.handleChangeRole)
			r.Delete("/{userID}", h.handleRemoveMember)
		})

		if library != nil {
			r.Mount("/library", library)
		}
	})

	return r
}
