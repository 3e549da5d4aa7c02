package tenant

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists device→tenant mappings.
type Repository interface {
	List(ctx context.Context) (map[string]string, error)
	Upsert(ctx context.Context, deviceID, tenantID string) error

	// Delete returns ErrMappingNotFound if deviceID has no mapping.
	Delete(ctx context.Context, deviceID string) error
}

// SQLiteRepository implements Repository over the device_tenants table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns all mappings keyed by device ID.
func (r *SQLiteRepository) List(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT device_id, tenant_id FROM device_tenants")
	if err != nil {
		return nil, fmt.Errorf("querying tenant mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var deviceID, tenantID string
		if err := rows.Scan(&deviceID, &tenantID); err != nil {
			return nil, fmt.Errorf("scanning tenant mapping: %w", err)
		}
		out[deviceID] = tenantID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenant mappings: %w", err)
	}
	return out, nil
}

// Upsert creates or replaces the mapping for deviceID.
func (r *SQLiteRepository) Upsert(ctx context.Context, deviceID, tenantID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_tenants (device_id, tenant_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET tenant_id = excluded.tenant_id, updated_at = excluded.updated_at`,
		deviceID, tenantID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving tenant mapping: %w", err)
	}
	return nil
}

// Delete removes the mapping for deviceID.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM device_tenants WHERE device_id = ?", deviceID)
	if err != nil {
		return fmt.Errorf("deleting tenant mapping: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting tenant mapping: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrMappingNotFound, deviceID)
	}
	return nil
}
