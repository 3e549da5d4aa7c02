// Package audit records which operator asked accessd to do what, and
// how each request ended.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Actions recorded in the trail.
const (
	ActionCommand       = "command"
	ActionMappingSet    = "tenant_mapping_set"
	ActionMappingRemove = "tenant_mapping_remove"
)

// SourceAPI marks entries created by HTTP requests.
const SourceAPI = "api"

// timeFormat is fixed-width so created_at sorts as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one line of the audit trail.
type Entry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	DeviceID  string         `json:"device_id,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Subject   string         `json:"subject,omitempty"`
	Source    string         `json:"source"`
	CommandID string         `json:"command_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter selects entries. Empty fields match everything.
type Filter struct {
	Action   string
	DeviceID string
	TenantID string
	Subject  string
	Since    time.Time
	Limit    int // default 50, max 200
	Offset   int
}

// Page is one page of List results, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores audit entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*Page, error)
}

// SQLiteRepository implements Repository over the audit_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e. ID, Source and CreatedAt are filled in when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	if e.ID == "" {
		e.ID = "aud-" + uuid.NewString()
	}
	if e.Source == "" {
		e.Source = SourceAPI
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encoding audit details: %w", err)
		}
		details = string(b)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, action, device_id, tenant_id, subject, source, command_id, status, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action,
		nullable(e.DeviceID), nullable(e.TenantID), nullable(e.Subject),
		e.Source,
		nullable(e.CommandID), nullable(e.Status),
		details,
		e.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*Page, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	where, args := filter.where()

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_log" + where //nolint:gosec // Placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT id, action, device_id, tenant_id, subject, source, command_id, status, details, created_at
		FROM audit_log` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?` //nolint:gosec // Placeholders only
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &Page{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		conds = append(conds, cond)
		args = append(args, v)
	}

	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.DeviceID != "" {
		add("device_id = ?", f.DeviceID)
	}
	if f.TenantID != "" {
		add("tenant_id = ?", f.TenantID)
	}
	if f.Subject != "" {
		add("subject = ?", f.Subject)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", f.Since.UTC().Format(timeFormat))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var deviceID, tenantID, subject, commandID, status, details sql.NullString
	var created string

	if err := rows.Scan(&e.ID, &e.Action, &deviceID, &tenantID, &subject, &e.Source,
		&commandID, &status, &details, &created); err != nil {
		return Entry{}, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.DeviceID = deviceID.String
	e.TenantID = tenantID.String
	e.Subject = subject.String
	e.CommandID = commandID.String
	e.Status = status.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
			e.Details = map[string]any{"raw": details.String}
		}
	}

	t, err := time.Parse(timeFormat, created)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing audit timestamp %q: %w", created, err)
	}
	e.CreatedAt = t
	return e, nil
}
