package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"home-manager/internal/expiry"
)

// Snapshotter lists armed expiry timers.
type Snapshotter interface {
	Snapshot() []expiry.TimerInfo
	Duration() time.Duration
}

// Handler serves GET /api/v1/expiry.
type Handler struct {
	scheduler Snapshotter
}

// NewHandler constructs a handler.
func NewHandler(scheduler Snapshotter) (*Handler, error) {
	if scheduler == nil {
		return nil, errors.New("expiry handler: nil scheduler")
	}
	return &Handler{scheduler: scheduler}, nil
}

type response struct {
	DurationSeconds float64            `json:"durationSeconds"`
	Timers          []expiry.TimerInfo `json:"timers"`
}

// ServeHTTP lists armed timers.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{
		DurationSeconds: h.scheduler.Duration().Seconds(),
		Timers:          h.scheduler.Snapshot(),
	})
}
