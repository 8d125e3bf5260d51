package api

import "net/http"

// Routes returns the HTTP handler of the service with its middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return h.recoverer(h.logRequests(mux))
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sensor-events", h.addEvent)
	mux.HandleFunc("GET /sensor-events", h.getAll)
	mux.HandleFunc("GET /sensor-events/{id}", h.getByID)
	mux.HandleFunc("GET /sensor-events/{category}/{sortBy}", h.getByCategory)
	mux.HandleFunc("DELETE /sensor-events/{id}", h.deleteByID)
	mux.HandleFunc("GET /health", h.health)
}
