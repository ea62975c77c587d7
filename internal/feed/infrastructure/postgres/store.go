package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	feed "home-manager/internal/feed/domain"
	reports "home-manager/internal/reports/domain"
)

const defaultFeedTable = "feed_entries"

// DBTX is the subset of *sql.DB used by the store.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a Postgres implementation of the feed.
type Store struct {
	db    DBTX
	table string
}

// Option configures the store.
type Option func(*Store)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

// NewStore constructs a store with default table name.
func NewStore(db DBTX, opts ...Option) *Store {
	store := &Store{db: db, table: defaultFeedTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Append inserts the entry; seq comes from a BIGSERIAL column. Re-inserting
// the same id returns the existing row.
func (s *Store) Append(ctx context.Context, entry feed.Entry) (feed.Entry, error) {
	if s == nil || s.db == nil {
		return feed.Entry{}, errors.New("feed store: nil db")
	}
	if err := entry.Validate(); err != nil {
		return feed.Entry{}, err
	}

	query := fmt.Sprintf(`
WITH inserted AS (
	INSERT INTO %[1]s (
		id,
		received_at,
		device_code,
		device_type,
		device_name,
		firmware_version,
		status,
		observed_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8
	)
	ON CONFLICT (id) DO NOTHING
	RETURNING seq
)
SELECT seq FROM inserted
UNION ALL
SELECT seq FROM %[1]s WHERE id = $1
LIMIT 1`, s.table)

	r := entry.Report
	if err := s.db.QueryRowContext(
		ctx,
		query,
		entry.ID,
		entry.ReceivedAt.UTC(),
		r.DeviceCode,
		r.DeviceType,
		r.DeviceName,
		r.FirmwareVersion,
		string(r.Status),
		r.ObservedAt.UTC(),
	).Scan(&entry.Seq); err != nil {
		return feed.Entry{}, err
	}
	return entry, nil
}

// List loads entries in arrival order.
func (s *Store) List(ctx context.Context, afterSeq int64, limit int) ([]feed.Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("feed store: nil db")
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
SELECT id, seq, received_at, device_code, device_type, device_name, firmware_version, status, observed_at
FROM %s
WHERE seq > $1
ORDER BY seq ASC
LIMIT $2`, s.table)

	rows, err := s.db.QueryContext(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []feed.Entry
	for rows.Next() {
		var (
			entry  feed.Entry
			status string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Seq,
			&entry.ReceivedAt,
			&entry.Report.DeviceCode,
			&entry.Report.DeviceType,
			&entry.Report.DeviceName,
			&entry.Report.FirmwareVersion,
			&status,
			&entry.Report.ObservedAt,
		); err != nil {
			return nil, err
		}
		entry.Report.Status = reports.Status(status)
		entry.ReceivedAt = entry.ReceivedAt.UTC()
		entry.Report.ObservedAt = entry.Report.ObservedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
