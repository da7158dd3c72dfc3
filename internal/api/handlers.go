package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ernie/fragwatch/internal/domain"
	"github.com/ernie/fragwatch/internal/storage"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// parseLimit returns the limit query parameter clamped to [1, max].
func parseLimit(req *http.Request, fallback, max int) int {
	limit := fallback
	if v := req.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// parseBool returns a boolean query parameter, false when absent or
// malformed.
func parseBool(req *http.Request, name string) bool {
	v, err := strconv.ParseBool(req.URL.Query().Get(name))
	return err == nil && v
}

// handleGetSnapshot returns the merged current-state view. Responses are
// content-addressed: a matching If-None-Match yields 304.
func (r *Router) handleGetSnapshot(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 20, 100)
	includeBots := parseBool(req, "include_bots")

	cached, err := r.snapshots.GetSnapshot(req.Context(), limit, includeBots)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("ETag", cached.ETag)
	if req.Header.Get("If-None-Match") == cached.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(cached.Body)
}

// handleGetLadder returns career totals.
func (r *Router) handleGetLadder(w http.ResponseWriter, req *http.Request) {
	limit := parseLimit(req, 20, 100)
	includeBots := parseBool(req, "include_bots")

	ladder, err := r.snapshots.Ladder(req.Context(), limit, includeBots)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ladder)
}

// handleGetPlayerProfile returns one player's career view by identity key.
func (r *Router) handleGetPlayerProfile(w http.ResponseWriter, req *http.Request) {
	key := req.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing player key")
		return
	}

	sinceDays := 0
	if v := req.URL.Query().Get("since_days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sinceDays = n
		}
	}
	topN := 5
	if v := req.URL.Query().Get("top_n"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			topN = n
		}
	}

	profile, err := r.snapshots.PlayerProfile(req.Context(), key, sinceDays, topN)
	if errors.Is(err, storage.ErrPlayerNotFound) {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleGetPlayerAliases returns every display form recorded for a
// player, most recently seen first.
func (r *Router) handleGetPlayerAliases(w http.ResponseWriter, req *http.Request) {
	key := req.PathValue("key")

	player, err := r.store.GetPlayerByKey(req.Context(), key)
	if errors.Is(err, storage.ErrPlayerNotFound) {
		writeError(w, http.StatusNotFound, "player not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	aliases, err := r.store.GetPlayerAliases(req.Context(), player.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if aliases == nil {
		aliases = []domain.PlayerAlias{}
	}
	writeJSON(w, http.StatusOK, aliases)
}

// handleHealth is a liveness check.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
