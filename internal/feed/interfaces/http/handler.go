package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	feed "home-manager/internal/feed/domain"
)

// Lister reads feed entries in arrival order.
type Lister interface {
	List(ctx context.Context, afterSeq int64, limit int) ([]feed.Entry, error)
}

// Handler serves GET /api/v1/feed.
type Handler struct {
	feed Lister
}

// NewHandler constructs a feed handler.
func NewHandler(lister Lister) (*Handler, error) {
	if lister == nil {
		return nil, errors.New("feed handler: nil lister")
	}
	return &Handler{feed: lister}, nil
}

type listResponse struct {
	Entries []feed.Entry `json:"entries"`
	NextSeq int64        `json:"nextSeq"`
}

// ServeHTTP lists entries after ?after=<seq>, at most ?limit=<n>.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	after, err := parseIntQuery(r, "after")
	if err != nil {
		http.Error(w, "invalid after", http.StatusBadRequest)
		return
	}
	limit, err := parseIntQuery(r, "limit")
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}

	entries, err := h.feed.List(r.Context(), after, int(limit))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []feed.Entry{}
	}
	next := after
	if len(entries) > 0 {
		next = entries[len(entries)-1].Seq
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(listResponse{Entries: entries, NextSeq: next})
}

func parseIntQuery(r *http.Request, key string) (int64, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return 0, errors.New("invalid " + key)
	}
	return parsed, nil
}
