package stall

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/cadence/internal/apperr"
)

type listResponse struct {
	ScannedAt  *time.Time  `json:"scanned_at,omitempty"`
	Candidates []Candidate `json:"candidates"`
}

// RegisterRoutes mounts the stall API routes.
func RegisterRoutes(r chi.Router, d *Detector) {
	r.Route("/api/stalls", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			candidates, at := d.Candidates()
			resp := listResponse{Candidates: candidates}
			if !at.IsZero() {
				resp.ScannedAt = &at
			}
			writeJSON(w, http.StatusOK, resp)
		})
		r.Post("/scan", func(w http.ResponseWriter, r *http.Request) {
			candidates, err := d.Scan(r.Context())
			if err != nil {
				apperr.WriteHTTP(w, err)
				return
			}
			_, at := d.Candidates()
			writeJSON(w, http.StatusOK, listResponse{ScannedAt: &at, Candidates: append([]Candidate{}, candidates...)})
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
