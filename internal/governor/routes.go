package governor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/config"
)

// RegisterRoutes mounts the governor API routes.
func RegisterRoutes(r chi.Router, g *Governor) {
	r.Route("/api/governor", func(r chi.Router) {
		r.Get("/", handleStatus(g))
		r.Put("/intensity", handleSetIntensity(g))
		r.Post("/quiet", handleQuiet(g))
		r.Post("/snooze", handleSnooze(g))
		r.Post("/pause", handlePause(g))
		r.Post("/resume", handleResume(g))
		r.Post("/activate", handleActivate(g))
		r.Post("/drain", handleDrain(g))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apperr.WriteHTTP(w, apperr.NewInvalidInput("invalid request body"))
		return false
	}
	return true
}

func handleStatus(g *Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, g.Status())
	}
}

func handleSetIntensity(g *Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Level config.IntensityLevel `json:"level"`
		}
		if !decode(w, r, &req) {
			return
		}
		profile, err := g.SetIntensity(r.Context(), req.Level)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func handleQuiet(g *Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			On *bool `json:"on"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.On == nil {
			apperr.WriteHTTP(w, apperr.NewInvalidInput(`"on" is required`))
			return
		}
		if err := g.SetQuiet(r.Context(), *req.On); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"quiet": *req.On})
	}
}

func handleSnooze(g *Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Ref      string `json:"ref"`
			Duration string `json:"duration"`
		}
		if !decode(w, r, &req) {
			return
		}
		var d time.Duration
		if req.Duration != "" {
			var err error
			if d, err = time.ParseDuration(req.Duration); err != nil {
				apperr.WriteHTTP(w, apperr.NewInvalidInput("invalid duration: "+req.Duration))
				return
			}
		}
		until, err := g.Snooze(r.Context(), req.Ref, d)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ref": req.Ref, "until": until})
	}
}

func handlePause(g *Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Ref string `json:"ref"`
		}
		if !decode(w, r, &req) {
			return
		}
		if err := g.Pause(r.Context(), req.Ref); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleResume(g *Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Ref string `json:"ref"`
		}
		if !decode(w, r, &req) {
			return
		}
		if err := g.Resume(r.Context(), req.Ref); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleActivate(g *Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ContextKey string `json:"context_key"`
			Force      bool   `json:"force"`
		}
		if !decode(w, r, &req) {
			return
		}
		d, err := g.Activate(r.Context(), req.ContextKey, req.Force)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleDrain(g *Governor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decisions, err := g.Drain(r.Context())
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, decisions)
	}
}
