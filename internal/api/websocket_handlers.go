package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleWebSocket upgrades the request and speaks the line protocol over
// text messages. It blocks until the connection ends.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ws == nil {
		http.Error(w, "WebSocket transport disabled", http.StatusNotFound)
		return
	}
	h.ws.HandleConnection(w, r)
}
