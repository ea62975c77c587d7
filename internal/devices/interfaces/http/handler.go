package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	devices "home-manager/internal/devices/domain"
)

// Reader is the directory API used by the handler.
type Reader interface {
	Get(ctx context.Context, code string) (*devices.Device, error)
	List(ctx context.Context) ([]devices.Device, error)
}

// Handler serves /api/v1/devices and /api/v1/devices/{code}.
type Handler struct {
	directory Reader
}

// NewHandler constructs a handler.
func NewHandler(directory Reader) (*Handler, error) {
	if directory == nil {
		return nil, errors.New("devices handler: nil directory")
	}
	return &Handler{directory: directory}, nil
}

// ServeHTTP handles device reads.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/devices":
		list, err := h.directory.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []devices.Device{}
		}
		writeJSON(w, list)
	case strings.HasPrefix(r.URL.Path, "/api/v1/devices/"):
		code := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
		if code == "" || strings.Contains(code, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		device, err := h.directory.Get(r.Context(), code)
		if err != nil {
			if errors.Is(err, devices.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, device)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(value)
}
