package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"home-manager/internal/eventing"
	feed "home-manager/internal/feed/domain"
	"home-manager/internal/ingestion/application"
	reports "home-manager/internal/reports/domain"
)

type stubIngester struct {
	code      string
	messageID string
	corr      string
	arrivedAt time.Time
	result    application.IngestionResult
	err       error
}

func (s *stubIngester) Handle(ctx context.Context, raw []byte, topicCode, messageID string, arrivedAt time.Time) (application.IngestionResult, error) {
	s.code = topicCode
	s.arrivedAt = arrivedAt
	s.messageID = messageID
	s.corr = eventing.CorrelationID(ctx)
	if s.err != nil {
		return application.IngestionResult{}, s.err
	}
	res := s.result
	res.MessageID = messageID
	return res, nil
}

func newHandler(t *testing.T, stub *stubIngester) *IngestHandler {
	t.Helper()
	h, err := NewIngestHandler(stub, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return h
}

func post(h http.Handler, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestIngestHandler_Accepted(t *testing.T) {
	stub := &stubIngester{result: application.IngestionResult{
		Entry: &feed.Entry{Seq: 4},
		Steps: []application.StepOutcome{
			{Step: application.StepFeed, Attempts: 1, Affected: 1},
			{Step: application.StepComponents, Attempts: 1, Affected: 2},
		},
	}}
	resp := post(newHandler(t, stub), "/ingest/devices/A/state", `{"status":"ON"}`, map[string]string{headerRequestID: "req-1"})

	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Equal(t, "A", stub.code)
	require.Equal(t, "req-1", stub.messageID)
	require.Equal(t, "req-1", stub.corr)

	var body ingestResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "req-1", body.MessageID)
	require.Equal(t, int64(4), body.Seq)
	require.Len(t, body.Steps, 2)
	require.Equal(t, 2, body.Steps[1].Affected)
}

func TestIngestHandler_PassesArrivalTime(t *testing.T) {
	stub := &stubIngester{result: application.IngestionResult{
		Steps: []application.StepOutcome{{Step: application.StepFeed, Attempts: 1, Affected: 1}},
	}}
	h := newHandler(t, stub)
	arrived := time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	h.now = func() time.Time { return arrived }

	resp := post(h, "/ingest/devices/A/state", `{"status":"ON"}`, nil)

	require.Equal(t, http.StatusAccepted, resp.Code)
	require.True(t, stub.arrivedAt.Equal(arrived))
	require.Equal(t, time.UTC, stub.arrivedAt.Location())
}

func TestIngestHandler_ValidationError(t *testing.T) {
	stub := &stubIngester{err: &reports.ValidationError{
		DeviceCode: "A",
		Fields:     []reports.FieldError{{Field: "status", Message: "is required"}},
	}}
	resp := post(newHandler(t, stub), "/ingest/devices/A/state", `{}`, nil)

	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	var body reports.ValidationError
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.True(t, body.Has("status"))
	require.NotEmpty(t, stub.messageID)
}

func TestIngestHandler_StepFailure(t *testing.T) {
	stub := &stubIngester{result: application.IngestionResult{
		Steps: []application.StepOutcome{
			{Step: application.StepFeed, Attempts: 1, Affected: 1},
			{Step: application.StepComponents, Attempts: 3, Err: &application.ReconciliationFailure{Step: application.StepComponents, Err: errors.New("db down")}},
		},
	}}
	resp := post(newHandler(t, stub), "/ingest/devices/A/state", `{"status":"ON"}`, nil)

	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	var body ingestResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Contains(t, body.Steps[1].Error, "db down")
}

func TestIngestHandler_Routing(t *testing.T) {
	h := newHandler(t, &stubIngester{})
	for _, path := range []string{"/ingest/devices//state", "/ingest/devices/A/B/state", "/ingest/devices/A"} {
		require.Equal(t, http.StatusNotFound, post(h, path, "{}", nil).Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/ingest/devices/A/state", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	require.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestNewIngestHandler_NilService(t *testing.T) {
	_, err := NewIngestHandler(nil, nil)
	require.Error(t, err)
}
