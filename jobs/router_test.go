package jobs

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func newJobsRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}
