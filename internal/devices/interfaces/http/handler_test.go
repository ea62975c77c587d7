package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devicesapp "home-manager/internal/devices/application"
	devices "home-manager/internal/devices/domain"
	"home-manager/internal/devices/infrastructure/memory"
	deviceshttp "home-manager/internal/devices/interfaces/http"
)

func newHandler(t *testing.T, codes ...string) *deviceshttp.Handler {
	t.Helper()
	directory, err := devicesapp.NewDirectory(memory.NewStore())
	require.NoError(t, err)
	for _, code := range codes {
		_, err := directory.Upsert(context.Background(), devices.Info{Code: code, Type: "lamp", Name: "Lamp " + code, Version: "1.0.0"})
		require.NoError(t, err)
	}
	handler, err := deviceshttp.NewHandler(directory)
	require.NoError(t, err)
	return handler
}

func TestDevicesHandler_List(t *testing.T) {
	handler := newHandler(t, "B", "A")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list []devices.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	codes := []string{list[0].Code, list[1].Code}
	assert.ElementsMatch(t, []string{"A", "B"}, codes)
}

func TestDevicesHandler_Get(t *testing.T) {
	handler := newHandler(t, "A")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/A", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var device devices.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &device))
	assert.Equal(t, "Lamp A", device.Name)
	assert.True(t, device.Active)
}

func TestDevicesHandler_NotFound(t *testing.T) {
	handler := newHandler(t)

	for _, target := range []string{"/api/v1/devices/missing", "/api/v1/devices/a/b"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestDevicesHandler_MethodNotAllowed(t *testing.T) {
	handler := newHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
