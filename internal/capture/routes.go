package capture

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/cadence/internal/apperr"
	"github.com/ziadkadry99/cadence/internal/entity"
)

// RegisterRoutes mounts the capture API routes.
func RegisterRoutes(r chi.Router, p *Processor, entities *entity.Store) {
	r.Route("/api/captures", func(r chi.Router) {
		r.Post("/", handleCapture(p))
		r.Post("/classified", handleClassified(p))
		r.Get("/triage", handleTriage(p))
		r.Get("/pending", handlePending(entities))
		r.Get("/{id}", handleGetCapture(entities))
		r.Post("/{id}/confirm", handleConfirm(p))
		r.Post("/{id}/resolve", handleResolve(p))
		r.Post("/{id}/dismiss", handleDismiss(p))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func handleCapture(p *Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text        string `json:"text"`
			ContextHint string `json:"context_hint"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperr.WriteHTTP(w, apperr.NewInvalidInput("invalid request body"))
			return
		}
		res, err := p.Capture(r.Context(), req.Text, req.ContextHint)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleClassified(p *Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Classified
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperr.WriteHTTP(w, apperr.NewInvalidInput("invalid request body"))
			return
		}
		res, err := p.ProcessClassified(r.Context(), req)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleTriage(p *Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		queue, err := p.Triage(r.Context(), limit)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if queue == nil {
			queue = []entity.Capture{}
		}
		writeJSON(w, http.StatusOK, queue)
	}
}

func handlePending(entities *entity.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := entities.PendingConfirmations(r.Context())
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if pending == nil {
			pending = []entity.Capture{}
		}
		writeJSON(w, http.StatusOK, pending)
	}
}

func handleGetCapture(entities *entity.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := entities.GetCapture(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleConfirm(p *Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Yes *bool `json:"yes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Yes == nil {
			apperr.WriteHTTP(w, apperr.NewInvalidInput(`body must be {"yes": true|false}`))
			return
		}
		c, err := p.Confirm(r.Context(), chi.URLParam(r, "id"), *req.Yes)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func handleResolve(p *Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ext Extraction
		if err := json.NewDecoder(r.Body).Decode(&ext); err != nil {
			apperr.WriteHTTP(w, apperr.NewInvalidInput("invalid request body"))
			return
		}
		res, err := p.Resolve(r.Context(), chi.URLParam(r, "id"), ext)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleDismiss(p *Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := p.Dismiss(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}
