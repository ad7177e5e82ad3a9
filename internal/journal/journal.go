// Package journal keeps a SQLite audit trail of action requests and their
// outcomes. Each action occupies one row, updated as it moves through its
// lifecycle. Property and event history is not recorded.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/webthing-core/internal/thing"
)

// Pagination limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// ErrNotFound is returned by Get for an unknown action ID.
var ErrNotFound = errors.New("journal: entry not found")

// Entry is one journaled action.
type Entry struct {
	ID            string         `json:"id"`
	ThingID       string         `json:"thingId"`
	Name          string         `json:"name"`
	Status        string         `json:"status"`
	Input         map[string]any `json:"input,omitempty"`
	Error         string         `json:"error,omitempty"`
	Href          string         `json:"href"`
	TimeRequested time.Time      `json:"timeRequested"`
	TimeCompleted *time.Time     `json:"timeCompleted,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Filter selects entries for List.
type Filter struct {
	ThingID string // optional
	Name    string // optional: action name
	Status  string // optional: created, pending, completed, error
	Limit   int    // default 50, max 200
	Offset  int
}

// ListResult is one page of entries, most recent request first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines journal storage operations.
type Repository interface {
	Record(ctx context.Context, rec thing.ActionRecord) error
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the journal in the action_journal table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an already migrated db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts the action or updates its row. Updates never move a
// terminal row back to a non-terminal status, so late or reordered
// deliveries cannot revert an outcome.
func (r *SQLiteRepository) Record(ctx context.Context, rec thing.ActionRecord) error {
	var inputJSON *string
	if rec.Input != nil {
		b, err := json.Marshal(rec.Input)
		if err != nil {
			return fmt.Errorf("marshalling action input: %w", err)
		}
		s := string(b)
		inputJSON = &s
	}

	var completed any
	if rec.TimeCompleted != nil {
		completed = formatTime(*rec.TimeCompleted)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO action_journal
		   (id, thing_id, name, status, input, error, href, time_requested, time_completed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status = excluded.status,
		   error = excluded.error,
		   time_completed = excluded.time_completed,
		   updated_at = excluded.updated_at
		 WHERE action_journal.status NOT IN ('completed', 'error')`,
		rec.ID, rec.ThingID, rec.Name, string(rec.Status), inputJSON,
		nullableString(rec.Error), rec.Href,
		formatTime(rec.TimeRequested), completed,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("recording action %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the entry for an action ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Entry, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM action_journal WHERE id = ?", id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// List returns entries matching filter, most recent request first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.ThingID != "" {
		conditions = append(conditions, "thing_id = ?")
		args = append(args, filter.ThingID)
	}
	if filter.Name != "" {
		conditions = append(conditions, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM action_journal " + where //nolint:gosec // parameterised conditions only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := "SELECT " + entryColumns + " FROM action_journal " + where + //nolint:gosec // parameterised conditions only
		" ORDER BY time_requested DESC, id LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

const entryColumns = "id, thing_id, name, status, input, error, href, time_requested, time_completed, updated_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var input, errText, completed sql.NullString
	var requested, updated string

	if err := s.Scan(&e.ID, &e.ThingID, &e.Name, &e.Status, &input, &errText,
		&e.Href, &requested, &completed, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning journal entry: %w", err)
	}

	if input.Valid && input.String != "" {
		var m map[string]any
		if json.Unmarshal([]byte(input.String), &m) == nil {
			e.Input = m
		}
	}
	if errText.Valid {
		e.Error = errText.String
	}

	var err error
	if e.TimeRequested, err = parseTime(requested); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if completed.Valid {
		tc, err := parseTime(completed.String)
		if err != nil {
			return nil, err
		}
		e.TimeCompleted = &tc
	}
	return &e, nil
}

// storeLayout is fixed-width so ORDER BY on the text column is
// chronological.
const storeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(storeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(storeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
