package feed

import (
	"context"
	"errors"
	"time"

	reports "home-manager/internal/reports/domain"
)

var (
	// ErrEmptyID indicates an entry without an idempotency key.
	ErrEmptyID = errors.New("feed: empty entry id")
	// ErrEmptyDeviceCode indicates an entry without a device code.
	ErrEmptyDeviceCode = errors.New("feed: empty device code")
)

// Entry is an immutable feed record of one ingested report.
type Entry struct {
	ID         string               `json:"id"`
	Seq        int64                `json:"seq"`
	ReceivedAt time.Time            `json:"receivedAt"`
	Report     reports.StatusReport `json:"report"`
}

// Validate checks entry invariants before it is stored.
func (e Entry) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.Report.DeviceCode == "" {
		return ErrEmptyDeviceCode
	}
	return nil
}

// Store persists feed entries in arrival order.
// Append assigns Seq and is idempotent on ID.
type Store interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	List(ctx context.Context, afterSeq int64, limit int) ([]Entry, error)
}
