package scheduler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/cadence/internal/apperr"
)

// RegisterRoutes mounts the job API routes.
func RegisterRoutes(r chi.Router, s *Scheduler) {
	r.Route("/api/jobs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, s.Jobs())
		})
		r.Post("/{name}/run", func(w http.ResponseWriter, r *http.Request) {
			if err := s.RunNow(r.Context(), chi.URLParam(r, "name")); err != nil {
				apperr.WriteHTTP(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
