package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"home-manager/internal/expiry"
)

type stubScheduler struct {
	timers []expiry.TimerInfo
}

func (s stubScheduler) Snapshot() []expiry.TimerInfo { return s.timers }
func (s stubScheduler) Duration() time.Duration      { return 5 * time.Minute }

func TestHandler_ListsTimers(t *testing.T) {
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	h, err := NewHandler(stubScheduler{timers: []expiry.TimerInfo{{DeviceCode: "A", ArmedAt: at, ExpiresAt: at.Add(5 * time.Minute), Generation: 3}}})
	require.NoError(t, err)

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/expiry", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var body response
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, float64(300), body.DurationSeconds)
	require.Len(t, body.Timers, 1)
	require.Equal(t, uint64(3), body.Timers[0].Generation)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h, err := NewHandler(stubScheduler{})
	require.NoError(t, err)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/expiry", nil))
	require.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}
