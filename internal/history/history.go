// Package history serves the conversation log over HTTP, read-only. The
// console fetches a conversation by the same partition key the gateway
// writes: "CONN-<connectionId>" for operator traffic, the session ID for
// session markers.
package history

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/umigoe/umigoe/pkg/store"
)

const (
	// DefaultLimit caps a request that names no limit.
	DefaultLimit = 100

	// MaxLimit bounds any single page regardless of the requested limit.
	MaxLimit = 1000
)

// response is the JSON body of a successful listing.
type response struct {
	ConversationID string                   `json:"conversationId"`
	Count          int                      `json:"count"`
	Items          []store.ConversationItem `json:"items"`
}

// errResponse is the JSON body of a rejected or failed request.
type errResponse struct {
	Error string `json:"error"`
}

// Handler serves conversation history reads.
type Handler struct {
	items store.ConversationStore
}

// New creates a Handler reading through items.
func New(items store.ConversationStore) *Handler {
	return &Handler{items: items}
}

// Items lists one conversation's items in ascending sort-key order, which is
// chronological within each item kind.
func (h *Handler) Items(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		writeJSON(w, http.StatusBadRequest, errResponse{Error: "missing conversation id"})
		return
	}

	limit := DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, MaxLimit)
	}

	items, err := h.items.ListItems(r.Context(), conversationID, limit)
	if err != nil {
		slog.Error("failed to list conversation items",
			"conversation_id", conversationID,
			"error", err)
		writeJSON(w, http.StatusInternalServerError, errResponse{Error: "conversation lookup failed"})
		return
	}
	if items == nil {
		items = []store.ConversationItem{}
	}

	writeJSON(w, http.StatusOK, response{
		ConversationID: conversationID,
		Count:          len(items),
		Items:          items,
	})
}

// Register adds the history routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/conversations/{id}/items", h.Items)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
