package api

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/ernie/fragwatch/internal/bus"
	"github.com/ernie/fragwatch/internal/collector"
	"github.com/ernie/fragwatch/internal/storage"
)

// Router holds the HTTP routes and dependencies
type Router struct {
	mux       *http.ServeMux
	store     *storage.Store
	snapshots *collector.SnapshotBuilder
	wsHub     *WebSocketHub
}

// NewRouter creates a new HTTP router
func NewRouter(store *storage.Store, snapshots *collector.SnapshotBuilder) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		store:     store,
		snapshots: snapshots,
		wsHub:     NewWebSocketHub(),
	}

	r.mux.HandleFunc("GET /api/snapshot", r.handleGetSnapshot)
	r.mux.HandleFunc("GET /api/ladder", r.handleGetLadder)
	r.mux.HandleFunc("GET /api/players/{key}", r.handleGetPlayerProfile)
	r.mux.HandleFunc("GET /api/players/{key}/aliases", r.handleGetPlayerAliases)

	r.mux.HandleFunc("GET /ws", r.handleWebSocket)

	r.mux.HandleFunc("GET /health", r.handleHealth)

	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.mux.ServeHTTP(w, req)
}

// Handler returns the router wrapped with transparent gzip compression.
func (r *Router) Handler() http.Handler {
	return gzhttp.GzipHandler(r)
}

// StartWebSocketHub starts the hub and forwards bus events to it.
func (r *Router) StartWebSocketHub(b *bus.Bus) error {
	go r.wsHub.Run()
	_, err := b.Subscribe(r.wsHub.Broadcast)
	return err
}
