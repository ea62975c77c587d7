package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	components "home-manager/internal/components/domain"
)

const defaultComponentsTable = "components"

// DBTX is the subset of *sql.DB used by the store.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a Postgres implementation for components.
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

// NewStore constructs a store.
func NewStore(db DBTX, opts ...Option) *Store {
	store := &Store{db: db, table: defaultComponentsTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// UpdateManyByDeviceCode flips every component of the device in one statement.
func (s *Store) UpdateManyByDeviceCode(ctx context.Context, deviceCode string, inUse bool, at time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("component store: nil db")
	}
	if deviceCode == "" {
		return 0, components.ErrEmptyDeviceCode
	}

	query := fmt.Sprintf(`
UPDATE %s SET
	last_changed_at = CASE WHEN in_use IS DISTINCT FROM $2 THEN $3 ELSE last_changed_at END,
	in_use = $2
WHERE device_code = $1`, s.table)

	res, err := s.db.ExecContext(ctx, query, deviceCode, inUse, at.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Save upserts a component, keeping the stored in-use flag on conflict.
func (s *Store) Save(ctx context.Context, component *components.Component) error {
	if s == nil || s.db == nil {
		return errors.New("component store: nil db")
	}
	if component == nil {
		return errors.New("component store: nil component")
	}
	if err := component.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	device_code,
	in_use,
	last_changed_at
) VALUES (
	$1, $2, $3, $4
)
ON CONFLICT (id)
DO UPDATE SET
	device_code = EXCLUDED.device_code,
	updated_at = NOW()
RETURNING in_use, last_changed_at, created_at`, s.table)

	if err := s.db.QueryRowContext(
		ctx,
		query,
		component.ID,
		component.DeviceCode,
		component.InUse,
		component.LastChangedAt.UTC(),
	).Scan(&component.InUse, &component.LastChangedAt, &component.CreatedAt); err != nil {
		return err
	}
	component.LastChangedAt = component.LastChangedAt.UTC()
	component.CreatedAt = component.CreatedAt.UTC()
	return nil
}

// List loads components, all of them when deviceCode is empty.
func (s *Store) List(ctx context.Context, deviceCode string) ([]components.Component, error) {
	if deviceCode == "" {
		return s.query(ctx, "TRUE")
	}
	return s.query(ctx, "device_code = $1", deviceCode)
}

// ListInUse loads components flagged in use.
func (s *Store) ListInUse(ctx context.Context) ([]components.Component, error) {
	return s.query(ctx, "in_use")
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]components.Component, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("component store: nil db")
	}

	query := fmt.Sprintf(`
SELECT id, device_code, in_use, last_changed_at, created_at
FROM %s
WHERE %s
ORDER BY id ASC`, s.table, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []components.Component
	for rows.Next() {
		var c components.Component
		if err := rows.Scan(&c.ID, &c.DeviceCode, &c.InUse, &c.LastChangedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.LastChangedAt = c.LastChangedAt.UTC()
		c.CreatedAt = c.CreatedAt.UTC()
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
