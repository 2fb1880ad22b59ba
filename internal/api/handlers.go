package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"collabd/internal/models"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests
// Learning: Uses INTERFACES defined in this package (consumer-driven)
type Handler struct {
	docs     DocumentReader
	presence PresenceReader
	conns    ConnectionCounter
	ws       WebSocketServer // nil disables /ws
}

func NewHandler(docs DocumentReader, presence PresenceReader, conns ConnectionCounter, ws WebSocketServer) *Handler {
	return &Handler{
		docs:     docs,
		presence: presence,
		conns:    conns,
		ws:       ws,
	}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Sessions    int    `json:"sessions"`
	Users       int    `json:"users"`
	Connections int    `json:"connections"`
}

// DocumentResponse is the body of GET /api/rooms/{room}/docs/{doc}.
type DocumentResponse struct {
	Room    string            `json:"room"`
	Doc     string            `json:"doc"`
	Text    string            `json:"text"`
	Version uint64            `json:"version"`
	Cursors map[string]int    `json:"cursors"`
	Users   []models.UserInfo `json:"users"`
}

// UsersResponse is the body of GET /api/rooms/{room}/docs/{doc}/users.
type UsersResponse struct {
	Room  string            `json:"room"`
	Doc   string            `json:"doc"`
	Users []models.UserInfo `json:"users"`
}

// Liveness is the bare probe on /health.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Sessions: h.docs.Len(),
		Users:    h.presence.Len(),
	}
	if h.conns != nil {
		resp.Connections = h.conns.ActiveConnections()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDocument returns a live session's text. Reading never opens a
// session, so unknown documents are 404.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	room, doc := vars["room"], vars["doc"]

	snap, ok := h.docs.Current(room, doc)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	cursors := make(map[string]int)
	for id, pos := range h.docs.Cursors(room, doc) {
		cursors[strconv.FormatUint(id, 10)] = pos
	}

	writeJSON(w, http.StatusOK, DocumentResponse{
		Room:    snap.Room,
		Doc:     snap.Doc,
		Text:    snap.Text,
		Version: snap.Version,
		Cursors: cursors,
		Users:   h.presence.MembersOf(room, doc),
	})
}

func (h *Handler) GetUsers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	room, doc := vars["room"], vars["doc"]

	writeJSON(w, http.StatusOK, UsersResponse{
		Room:  room,
		Doc:   doc,
		Users: h.presence.MembersOf(room, doc),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}
