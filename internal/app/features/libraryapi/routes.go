package libraryapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns a chi.Router with the library endpoints mounted. The
// router expects to be mounted under a pattern that binds {groupID} and
// has already loaded the session user (see groupsapi.Routes).
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/tree", h.handleTree)

	r.Route("/folders", func(r chi.Router) {
		r.Post("/", h.handleCreateFolder)
		r.Patch("/{folderID}", h.handleRenameFolder)
		r.Post("/{folderID}/move", h.handleMoveFolder)
		r.Delete("/{folderID}", h.handleDeleteFolder)
	})

	r.Route("/files", func(r chi.Router) {
		r.Get("/", h.handleListFiles)
		r.Post("/", h.handleUploadFile)
		r.Get("/{fileID}", h.handleGetFile)
		r.Get("/{fileID}/download", h.handleDownloadFile)
		r.Patch("/{fileID}", h.handleRenameFile)
		r.Post("/{fileID}/move", h.handleMoveFile)
		r.Delete("/{fileID}", h.handleDeleteFile)
	})

	return r
}
