package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"home-manager/internal/observability/metrics"
	reports "home-manager/internal/reports/domain"
)

// Rejection describes a report refused by validation.
type Rejection struct {
	MessageID  string
	TopicCode  string
	Payload    []byte
	Error      *reports.ValidationError
	RejectedAt time.Time
}

// RejectionSink is notified of every rejected report.
type RejectionSink interface {
	Rejected(ctx context.Context, rejection Rejection) error
}

// Validator parses raw reports.
type Validator interface {
	ValidateAt(raw []byte, topicCode string, arrivedAt time.Time) (reports.StatusReport, error)
}

// Service validates raw payloads and hands valid reports to the dispatcher.
// Rejected payloads never reach any store.
type Service struct {
	validator  Validator
	dispatcher *Dispatcher
	sinks      []RejectionSink
	logger     *zap.SugaredLogger
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithRejectionSink adds a sink for rejected reports.
func WithRejectionSink(sink RejectionSink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// WithServiceLogger assigns a logger.
func WithServiceLogger(logger *zap.SugaredLogger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs an ingestion service.
func NewService(validator Validator, dispatcher *Dispatcher, opts ...ServiceOption) (*Service, error) {
	if validator == nil {
		return nil, errors.New("ingestion: nil validator")
	}
	if dispatcher == nil {
		return nil, errors.New("ingestion: nil dispatcher")
	}
	s := &Service{validator: validator, dispatcher: dispatcher, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Accept validates raw and submits it for dispatch. arrivedAt is when the
// transport first received the message; it stands in for a missing report
// timestamp and must be the same on every redelivery. A validation failure
// is returned as *reports.ValidationError and nothing is submitted.
func (s *Service) Accept(ctx context.Context, raw []byte, topicCode, messageID string, arrivedAt time.Time) (<-chan IngestionResult, error) {
	report, err := s.validator.ValidateAt(raw, topicCode, arrivedAt)
	if err != nil {
		s.reject(ctx, raw, topicCode, messageID, err)
		return nil, err
	}
	return s.dispatcher.Submit(ctx, report, messageID), nil
}

// Handle validates and dispatches raw, waiting for every step.
func (s *Service) Handle(ctx context.Context, raw []byte, topicCode, messageID string, arrivedAt time.Time) (IngestionResult, error) {
	results, err := s.Accept(ctx, raw, topicCode, messageID, arrivedAt)
	if err != nil {
		return IngestionResult{MessageID: messageID}, err
	}
	return <-results, nil
}

func (s *Service) reject(ctx context.Context, raw []byte, topicCode, messageID string, err error) {
	var verr *reports.ValidationError
	if !errors.As(err, &verr) {
		verr = &reports.ValidationError{DeviceCode: topicCode, Fields: []reports.FieldError{{Field: "payload", Message: err.Error()}}}
	}
	field := ""
	if len(verr.Fields) > 0 {
		field = verr.Fields[0].Field
	}
	metrics.IncValidationRejected(field)
	metrics.ObserveIngest(metrics.ResultRejected, 0)
	s.logger.Infow("report rejected", "device_code", verr.DeviceCode, "message_id", messageID, "err", verr)

	rejection := Rejection{
		MessageID:  messageID,
		TopicCode:  topicCode,
		Payload:    append([]byte(nil), raw...),
		Error:      verr,
		RejectedAt: time.Now().UTC(),
	}
	for _, sink := range s.sinks {
		if err := sink.Rejected(ctx, rejection); err != nil {
			s.logger.Warnw("rejection sink failed", "message_id", messageID, "err", err)
		}
	}
}
