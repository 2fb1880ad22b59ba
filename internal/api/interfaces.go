package api

import (
	"net/http"

	"collabd/internal/models"
	"collabd/internal/services/collaboration"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package (api/handlers) is the CONSUMER of the collaboration service, so
the interfaces it needs live HERE. The handlers only read state; nothing in
this package can mutate a document.

Handler tests pass small fakes instead of a live SessionManager.
*/

// DocumentReader exposes read-only session state.
type DocumentReader interface {
	Current(room, doc string) (collaboration.Snapshot, bool)
	Cursors(room, doc string) map[uint64]int
	Len() int
}

// PresenceReader lists joined users.
type PresenceReader interface {
	MembersOf(room, doc string) []models.UserInfo
	Len() int
}

// ConnectionCounter reports live protocol connections.
type ConnectionCounter interface {
	ActiveConnections() int
}

// WebSocketServer serves the collaboration protocol on an upgraded request.
type WebSocketServer interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
}
