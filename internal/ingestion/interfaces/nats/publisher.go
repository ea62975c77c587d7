package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"home-manager/internal/eventing"
	"home-manager/internal/ingestion/application"
	reports "home-manager/internal/reports/domain"
)

const defaultRejectPrefix = "home.devices"

// Publisher is the JetStream publish call.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// RejectionPublisher publishes rejected reports as envelopes on
// <prefix>.<code>.rejected, or <prefix>.rejected when no usable code is known.
type RejectionPublisher struct {
	js     Publisher
	prefix string
}

// NewRejectionPublisher constructs a publisher.
func NewRejectionPublisher(js Publisher, prefix string) (*RejectionPublisher, error) {
	if js == nil {
		return nil, errors.New("nats: nil publisher")
	}
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = defaultRejectPrefix
	}
	return &RejectionPublisher{js: js, prefix: prefix}, nil
}

// Subject returns the subject a rejection for code is published on.
func (p *RejectionPublisher) Subject(code string) string {
	if !validToken(code) {
		return p.prefix + ".rejected"
	}
	return p.prefix + "." + code + ".rejected"
}

// Rejected implements application.RejectionSink.
func (p *RejectionPublisher) Rejected(ctx context.Context, rejection application.Rejection) error {
	code := rejection.TopicCode
	var fields []reports.FieldError
	if rejection.Error != nil {
		fields = rejection.Error.Fields
		if code == "" {
			code = rejection.Error.DeviceCode
		}
	}
	event := reports.Rejected{
		DeviceCode: code,
		MessageID:  rejection.MessageID,
		Errors:     fields,
		Payload:    string(rejection.Payload),
		OccurredAt: rejection.RejectedAt,
	}
	meta := eventing.MetaFromContext(ctx)
	if meta.CorrelationID == "" {
		meta.CorrelationID = rejection.MessageID
	}
	env, err := eventing.BuildEnvelope(event, meta)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(ctx, p.Subject(code), data, jetstream.WithMsgID(env.EventID)); err != nil {
		return fmt.Errorf("nats: publish rejection: %w", err)
	}
	return nil
}

func validToken(token string) bool {
	if token == "" {
		return false
	}
	return !strings.ContainsAny(token, ".*> \t\r\n")
}
