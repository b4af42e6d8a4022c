package memory

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/cadence/internal/apperr"
)

// RegisterRoutes mounts the memory API routes.
func RegisterRoutes(r chi.Router, store *Store) {
	r.Route("/api/memory", func(r chi.Router) {
		r.Post("/episodes", handleRecordEpisode(store))
		r.Get("/episodes", handleQueryEpisodes(store))
		r.Get("/episodes/{id}", handleGetEpisode(store))
		r.Delete("/episodes/{id}", handleEraseEpisode(store))
		r.Get("/context", handleGetContext(store))
		r.Post("/facts", handleRecordFact(store))
		r.Get("/facts", handleQueryFacts(store))
		r.Get("/facts/history", handleFactHistory(store))
		r.Get("/facts/{id}", handleGetFact(store))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func list(r *http.Request, name string) []string {
	var out []string
	for _, part := range strings.Split(r.URL.Query().Get(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func handleRecordEpisode(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ep Episode
		if err := json.NewDecoder(r.Body).Decode(&ep); err != nil {
			apperr.WriteHTTP(w, apperr.NewInvalidInput("invalid request body"))
			return
		}
		created, err := store.RecordEpisode(r.Context(), ep)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleQueryEpisodes(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := EpisodeQuery{
			ProjectRef: r.URL.Query().Get("project"),
			TaskRef:    r.URL.Query().Get("task"),
			Topics:     list(r, "topics"),
			Entities:   list(r, "entities"),
		}
		q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
		for _, t := range list(r, "type") {
			q.Types = append(q.Types, EpisodeType(t))
		}
		for _, l := range list(r, "layer") {
			q.Layers = append(q.Layers, Layer(strings.ToUpper(l)))
		}
		ranked, err := store.QueryEpisodes(r.Context(), q)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if ranked == nil {
			ranked = []ScoredEpisode{}
		}
		writeJSON(w, http.StatusOK, ranked)
	}
}

func handleGetEpisode(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ep, err := store.GetEpisode(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ep)
	}
}

func handleEraseEpisode(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.EraseEpisode(r.Context(), chi.URLParam(r, "id")); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleGetContext(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := ContextQuery{
			Topics:   list(r, "topics"),
			Entities: list(r, "entities"),
			Text:     r.URL.Query().Get("text"),
		}
		q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
		mc, err := store.GetContext(r.Context(), q)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, mc)
	}
}

func handleRecordFact(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in FactInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			apperr.WriteHTTP(w, apperr.NewInvalidInput("invalid request body"))
			return
		}
		res, err := store.RecordFact(r.Context(), in)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func handleQueryFacts(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facts, err := store.QueryFacts(r.Context(), r.URL.Query().Get("subject"), r.URL.Query().Get("predicate"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if facts == nil {
			facts = []Fact{}
		}
		writeJSON(w, http.StatusOK, facts)
	}
}

func handleFactHistory(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, predicate := r.URL.Query().Get("subject"), r.URL.Query().Get("predicate")
		if subject == "" || predicate == "" {
			apperr.WriteHTTP(w, apperr.NewInvalidInput("subject and predicate are required"))
			return
		}
		facts, err := store.FactHistory(r.Context(), subject, predicate)
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		if facts == nil {
			facts = []Fact{}
		}
		writeJSON(w, http.StatusOK, facts)
	}
}

func handleGetFact(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := store.GetFact(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, f)
	}
}
