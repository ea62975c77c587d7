package devices

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a missing device record.
	ErrNotFound = errors.New("device: not found")
	// ErrEmptyCode indicates a device without code.
	ErrEmptyCode = errors.New("device: empty code")
)

// Device is a directory record describing a reporting device.
type Device struct {
	Code       string    `json:"code"`
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Info holds the descriptive fields carried by a report.
type Info struct {
	Code    string
	Type    string
	Name    string
	Version string
}

// Validate checks info invariants.
func (i Info) Validate() error {
	if i.Code == "" {
		return ErrEmptyCode
	}
	return nil
}

// Store manages device persistence.
type Store interface {
	// SoftCreateOrUpdate creates an active device or refreshes descriptive
	// fields and LastSeenAt of an existing one. Active is never changed on update.
	SoftCreateOrUpdate(ctx context.Context, info Info, seenAt time.Time) (*Device, error)
	Get(ctx context.Context, code string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
}
