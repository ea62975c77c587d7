// Package nats adapts NATS JetStream deliveries to the ingestion service.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"home-manager/internal/ingestion/application"
)

// Delivery is one routed inbound message. Wildcards holds the tokens
// matched by '*' in order, followed by the remainder matched by '>'.
// ArrivedAt is the stream timestamp, identical across redeliveries.
type Delivery struct {
	Subject   string
	Wildcards []string
	Data      []byte
	MessageID string
	ArrivedAt time.Time
}

// Handler processes a routed delivery. A returned error is terminal for the
// message; retryable failures arrive through the result channel.
type Handler func(ctx context.Context, d Delivery) (<-chan application.IngestionResult, error)

type route struct {
	pattern string
	tokens  []string
	handler Handler
}

// Router is a dispatch table of subject patterns, resolved in registration
// order. It is built once at startup and read-only afterwards.
type Router struct {
	routes []route
}

// NewRouter constructs an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers handler for pattern. '*' matches one token and '>' matches
// one or more trailing tokens.
func (r *Router) Handle(pattern string, handler Handler) error {
	if handler == nil {
		return errors.New("nats: nil handler")
	}
	tokens := strings.Split(pattern, ".")
	for i, tok := range tokens {
		if tok == "" {
			return fmt.Errorf("nats: empty token in pattern %q", pattern)
		}
		if tok == ">" && i != len(tokens)-1 {
			return fmt.Errorf("nats: '>' must be the last token in %q", pattern)
		}
	}
	r.routes = append(r.routes, route{pattern: pattern, tokens: tokens, handler: handler})
	return nil
}

// Patterns lists registered patterns.
func (r *Router) Patterns() []string {
	patterns := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		patterns = append(patterns, rt.pattern)
	}
	return patterns
}

// Match returns the first handler whose pattern matches subject together with
// the wildcard captures.
func (r *Router) Match(subject string) (Handler, []string, bool) {
	parts := strings.Split(subject, ".")
	for _, rt := range r.routes {
		if captures, ok := match(rt.tokens, parts); ok {
			return rt.handler, captures, true
		}
	}
	return nil, nil, false
}

func match(pattern, subject []string) ([]string, bool) {
	var captures []string
	for i, tok := range pattern {
		if tok == ">" {
			if i >= len(subject) {
				return nil, false
			}
			return append(captures, strings.Join(subject[i:], ".")), true
		}
		if i >= len(subject) || subject[i] == "" {
			return nil, false
		}
		switch tok {
		case "*":
			captures = append(captures, subject[i])
		default:
			if tok != subject[i] {
				return nil, false
			}
		}
	}
	return captures, len(pattern) == len(subject)
}

// Acceptor validates and submits raw reports.
type Acceptor interface {
	Accept(ctx context.Context, raw []byte, topicCode, messageID string, arrivedAt time.Time) (<-chan application.IngestionResult, error)
}

// StateHandler handles device state subjects; the first wildcard is the
// device code.
func StateHandler(service Acceptor) Handler {
	return func(ctx context.Context, d Delivery) (<-chan application.IngestionResult, error) {
		code := ""
		if len(d.Wildcards) > 0 {
			code = d.Wildcards[0]
		}
		return service.Accept(ctx, d.Data, code, d.MessageID, d.ArrivedAt)
	}
}
