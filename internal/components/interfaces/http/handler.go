package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"home-manager/internal/audit"
	"home-manager/internal/auth"
	components "home-manager/internal/components/domain"
)

// Service is the component API used by the handler.
type Service interface {
	Register(ctx context.Context, component components.Component) (*components.Component, error)
	List(ctx context.Context, deviceCode string) ([]components.Component, error)
}

// Handler serves /api/v1/components.
type Handler struct {
	service     Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler. A nil audit logger discards entries.
func NewHandler(service Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("components handler: nil service")
	}
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

type registerRequest struct {
	ID         string `json:"id"`
	DeviceCode string `json:"deviceCode"`
}

// ServeHTTP lists (GET, optional ?deviceCode=) or registers (POST) components.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.service.List(r.Context(), r.URL.Query().Get("deviceCode"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if list == nil {
			list = []components.Component{}
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		component, err := h.service.Register(r.Context(), components.Component{ID: req.ID, DeviceCode: req.DeviceCode})
		if err != nil {
			if errors.Is(err, components.ErrEmptyID) || errors.Is(err, components.ErrEmptyDeviceCode) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, component)

		meta, _ := json.Marshal(req)
		caller, _ := auth.IdentityFromContext(r.Context())
		_ = h.auditLogger.Log(r.Context(), audit.Entry{
			Actor:        caller.Subject,
			Role:         string(caller.Role),
			Action:       "component.register",
			ResourceType: "component",
			ResourceID:   component.ID,
			DeviceCode:   component.DeviceCode,
			Metadata:     meta,
			IP:           audit.ClientIP(r),
			UserAgent:    r.UserAgent(),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
