// Package http exposes device report ingestion over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"home-manager/internal/eventing"
	"home-manager/internal/ingestion/application"
	"home-manager/internal/observability/metrics"
	reports "home-manager/internal/reports/domain"
)

const (
	pathPrefix = "/ingest/devices/"
	pathSuffix = "/state"

	headerRequestID = "X-Request-ID"
	transportName   = "http"
)

// Ingester validates and dispatches raw reports.
type Ingester interface {
	Handle(ctx context.Context, raw []byte, topicCode, messageID string, arrivedAt time.Time) (application.IngestionResult, error)
}

// IngestHandler accepts POST /ingest/devices/{code}/state.
type IngestHandler struct {
	service Ingester
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service Ingester, logger *zap.SugaredLogger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("ingest handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &IngestHandler{service: service, logger: logger, now: time.Now}, nil
}

type stepResponse struct {
	Step     application.Step `json:"step"`
	Attempts int              `json:"attempts"`
	Affected int              `json:"affected"`
	Skipped  bool             `json:"skipped,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type ingestResponse struct {
	MessageID string         `json:"messageId"`
	Seq       int64          `json:"seq,omitempty"`
	Stale     bool           `json:"stale,omitempty"`
	Steps     []stepResponse `json:"steps"`
}

// ServeHTTP ingests one report.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	arrivedAt := h.now().UTC()
	code, ok := deviceCodeFromPath(r.URL.Path)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warnw("ingest: read body error", "err", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	messageID := strings.TrimSpace(r.Header.Get(headerRequestID))
	if messageID == "" {
		messageID = uuid.NewString()
	}
	ctx := eventing.WithSource(eventing.WithCorrelationID(r.Context(), messageID), transportName)

	result, err := h.service.Handle(ctx, body, code, messageID, arrivedAt)
	if err != nil {
		var verr *reports.ValidationError
		if errors.As(err, &verr) {
			metrics.IncTransportMessage(transportName, "rejected")
			writeJSON(w, http.StatusUnprocessableEntity, verr)
			return
		}
		h.logger.Errorw("ingest failed", "device_code", code, "message_id", messageID, "err", err)
		http.Error(w, "ingest error", http.StatusInternalServerError)
		return
	}

	status := http.StatusAccepted
	outcome := "accepted"
	if !result.OK() {
		status = http.StatusServiceUnavailable
		outcome = "failed"
	}
	metrics.IncTransportMessage(transportName, outcome)
	writeJSON(w, status, toResponse(result))
}

func deviceCodeFromPath(path string) (string, bool) {
	if !strings.HasPrefix(path, pathPrefix) || !strings.HasSuffix(path, pathSuffix) {
		return "", false
	}
	code := strings.TrimSuffix(strings.TrimPrefix(path, pathPrefix), pathSuffix)
	if code == "" || strings.Contains(code, "/") {
		return "", false
	}
	return code, true
}

func toResponse(result application.IngestionResult) ingestResponse {
	resp := ingestResponse{MessageID: result.MessageID, Stale: result.Stale, Steps: make([]stepResponse, 0, len(result.Steps))}
	if result.Entry != nil {
		resp.Seq = result.Entry.Seq
	}
	for _, s := range result.Steps {
		step := stepResponse{Step: s.Step, Attempts: s.Attempts, Affected: s.Affected, Skipped: s.Skipped}
		if s.Err != nil {
			step.Error = s.Err.Error()
		}
		resp.Steps = append(resp.Steps, step)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
