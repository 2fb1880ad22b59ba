package api

import (
	"net/http"

	"collabd/internal/middleware"

	"github.com/gorilla/mux"
)

// SetupRoutes builds the HTTP surface: liveness, the read-only session
// API and the /ws upgrade.
func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// mux runs middleware only on matched routes, in order: tracing
	// wraps recovery wraps CORS.
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	r.HandleFunc("/health", h.Liveness).Methods(http.MethodGet)

	// OPTIONS is matched so browser preflights reach CORSMiddleware.
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/rooms/{room}/docs/{doc}", h.GetDocument).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/rooms/{room}/docs/{doc}/users", h.GetUsers).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/ws", h.HandleWebSocket)

	return r
}
