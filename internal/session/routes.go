package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/intakehq/intake/internal/artifact"
	"github.com/intakehq/intake/internal/depgraph"
	"github.com/intakehq/intake/internal/preview"
	"github.com/intakehq/intake/internal/record"
	"github.com/intakehq/intake/internal/surface"
)

// RegisterRoutes mounts the engine API.
func RegisterRoutes(r chi.Router, m *Manager) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", handleCreateSession(m))
		r.Post("/{id}/turns", handleSubmitTurn(m))
		r.Get("/{id}/actions/{actionID}", handleCheckAction(m))
		r.Get("/{id}/artifacts/{artifactID}", handleGetArtifact(m))
		r.Post("/{id}/artifacts/{artifactID}/retry", handleRetryArtifact(m))
		r.Post("/{id}/artifacts/{artifactID}/invalidate", handleInvalidateArtifact(m))
		r.Get("/{id}/artifacts/{artifactID}/preview", handlePreviewArtifact(m))
		r.Get("/{id}/surface", handleGetSurface(m))
		r.Get("/{id}/record", handleGetRecord(m))
		r.Get("/{id}/facts", handleGetFacts(m))
		r.Get("/{id}/stream", handleStream(m))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto status codes: unknown references are
// client errors, everything else is a 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownSession),
		errors.Is(err, depgraph.ErrUnknownAction),
		errors.Is(err, artifact.ErrUnknownArtifact):
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func handleCreateSession(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.Create(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, sess)
	}
}

type submitTurnRequest struct {
	TurnID  string               `json:"turn_id,omitempty"`
	Updates []record.FieldUpdate `json:"updates,omitempty"`
	Text    string               `json:"text,omitempty"`
}

func handleSubmitTurn(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitTurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if len(req.Updates) == 0 && req.Text == "" {
			http.Error(w, `{"error":"updates or text is required"}`, http.StatusBadRequest)
			return
		}

		result, err := m.SubmitTurn(r.Context(), chi.URLParam(r, "id"), req.TurnID, req.Updates, req.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, result)
	}
}

func handleCheckAction(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := m.CheckAction(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "actionID"))
		if err != nil {
			writeError(w, err)
			return
		}
		if res.Missing == nil {
			res.Missing = []string{}
		}
		writeJSON(w, res)
	}
}

func handleGetArtifact(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := m.GetArtifact(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "artifactID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

func handleRetryArtifact(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := m.RetryArtifact(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "artifactID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

type invalidateRequest struct {
	Reason string `json:"reason,omitempty"`
}

func handleInvalidateArtifact(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req invalidateRequest
		json.NewDecoder(r.Body).Decode(&req)

		err := m.InvalidateArtifact(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "artifactID"), req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "invalidated"})
	}
}

func handlePreviewArtifact(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := m.GetArtifact(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "artifactID"))
		if err != nil {
			writeError(w, err)
			return
		}
		if a.State != artifact.StateReady {
			http.Error(w, `{"error":"artifact is not ready"}`, http.StatusConflict)
			return
		}
		html, err := preview.Render(a.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(html))
	}
}

func handleGetSurface(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards, err := m.GetSurface(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if cards == nil {
			cards = []surface.Card{}
		}
		writeJSON(w, cards)
	}
}

func handleGetRecord(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, score, err := m.GetRecord(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{
			"record":    rec,
			"readiness": score,
		})
	}
}

func handleGetFacts(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		facts, err := m.GetFacts(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if facts == nil {
			facts = []record.Fact{}
		}
		writeJSON(w, facts)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades to a websocket and pushes the card list after
// every committed turn and artifact transition. The current surface is
// sent immediately on connect.
func handleStream(m *Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")

		cards, err := m.GetSurface(r.Context(), sessionID)
		if err != nil {
			writeError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		if err := m.Hub().Subscribe(sessionID, conn, cards); err != nil {
			return
		}
		defer m.Hub().Unsubscribe(sessionID, conn)

		// Drain reads until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
