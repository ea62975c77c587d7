package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "home-manager/internal/devices/domain"
)

const defaultDevicesTable = "devices"

// DBTX is the subset of *sql.DB used by the repository.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db    DBTX
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

const deviceColumns = "code, device_type, name, version, last_seen_at, active, created_at, updated_at"

// SoftCreateOrUpdate upserts a device keyed by code. Concurrent duplicate
// calls resolve inside the ON CONFLICT clause.
func (r *DeviceRepository) SoftCreateOrUpdate(ctx context.Context, info devices.Info, seenAt time.Time) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	code,
	device_type,
	name,
	version,
	last_seen_at,
	active
) VALUES (
	$1, $2, $3, $4, $5, TRUE
)
ON CONFLICT (code)
DO UPDATE SET
	device_type = EXCLUDED.device_type,
	name = EXCLUDED.name,
	version = EXCLUDED.version,
	last_seen_at = GREATEST(%s.last_seen_at, EXCLUDED.last_seen_at),
	updated_at = NOW()
RETURNING %s`, r.table, r.table, deviceColumns)

	row := r.db.QueryRowContext(ctx, query, info.Code, info.Type, info.Name, info.Version, seenAt.UTC())
	return scanDevice(row)
}

// Get loads a device by code.
func (r *DeviceRepository) Get(ctx context.Context, code string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if code == "" {
		return nil, devices.ErrEmptyCode
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE code = $1
LIMIT 1`, deviceColumns, r.table)

	device, err := scanDevice(r.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, devices.ErrNotFound
		}
		return nil, err
	}
	return device, nil
}

// List loads all devices.
func (r *DeviceRepository) List(ctx context.Context) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}

	query := fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY code ASC`, deviceColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*devices.Device, error) {
	var device devices.Device
	if err := row.Scan(
		&device.Code,
		&device.Type,
		&device.Name,
		&device.Version,
		&device.LastSeenAt,
		&device.Active,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		return nil, err
	}
	device.LastSeenAt = device.LastSeenAt.UTC()
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}
