package activecontext

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/cadence/internal/apperr"
)

// RegisterRoutes mounts the active context API routes.
func RegisterRoutes(r chi.Router, t *Tracker) {
	r.Route("/api/context", func(r chi.Router) {
		r.Get("/", handleCurrent(t))
		r.Post("/observe", handleObserve(t))
		r.Get("/briefing", handleBriefing(t))
		r.Post("/interrupt", handleInterrupt(t))
		r.Post("/restore", handleRestore(t))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func handleCurrent(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, t.Current())
	}
}

func handleObserve(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var obs Observation
		if err := json.NewDecoder(r.Body).Decode(&obs); err != nil {
			apperr.WriteHTTP(w, apperr.NewInvalidInput("invalid request body"))
			return
		}
		ac, err := t.Observe(r.Context(), obs)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ac)
	}
}

func handleBriefing(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := t.ResumptionBriefing(r.Context())
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}

func handleInterrupt(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reason string `json:"reason"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				apperr.WriteHTTP(w, apperr.NewInvalidInput("invalid request body"))
				return
			}
		}
		snap, err := t.SnapshotOnInterruption(r.Context(), req.Reason)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleRestore(t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := t.Restore(r.Context())
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)
	}
}
