package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Entry is one journaled message.
type Entry struct {
	ID         int64     `json:"id"`
	Direction  string    `json:"direction"`
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	QoS        int       `json:"qos"`
	ClientID   string    `json:"client_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ConnectionEvent is one journaled state transition.
type ConnectionEvent struct {
	ID         int64     `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ClientID   string    `json:"client_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Filter controls which messages Recent returns.
type Filter struct {
	Direction string // optional: "in" or "out"
	Topic     string // optional: exact topic
	Limit     int    // default 50, max 200
}

// Repository stores and retrieves journal rows.
type Repository interface {
	RecordMessage(ctx context.Context, e *Entry) error
	RecordConnectionEvent(ctx context.Context, ev *ConnectionEvent) error
	Recent(ctx context.Context, filter Filter) ([]Entry, error)
	ConnectionHistory(ctx context.Context, limit int) ([]ConnectionEvent, error)
}

// SQLiteRepository implements Repository on the message_journal and
// connection_events tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordMessage inserts e. RecordedAt defaults to now and ID is filled in.
func (r *SQLiteRepository) RecordMessage(ctx context.Context, e *Entry) error {
	if e.Direction != DirectionIn && e.Direction != DirectionOut {
		return fmt.Errorf("invalid direction %q", e.Direction)
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO message_journal (direction, topic, payload, qos, client_id, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Direction, e.Topic, e.Payload, e.QoS, e.ClientID,
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// RecordConnectionEvent inserts ev. RecordedAt defaults to now.
func (r *SQLiteRepository) RecordConnectionEvent(ctx context.Context, ev *ConnectionEvent) error {
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_events (from_state, to_state, client_id, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.From, ev.To, ev.ClientID, ev.Error,
		ev.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting connection event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// Recent returns journaled messages matching filter, newest first.
func (r *SQLiteRepository) Recent(ctx context.Context, filter Filter) ([]Entry, error) {
	limit := clampLimit(filter.Limit)

	var (
		conditions []string
		args       []any
	)
	if filter.Direction != "" {
		conditions = append(conditions, "direction = ?")
		args = append(args, filter.Direction)
	}
	if filter.Topic != "" {
		conditions = append(conditions, "topic = ?")
		args = append(args, filter.Topic)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, direction, topic, payload, qos, client_id, recorded_at
		 FROM message_journal %s
		 ORDER BY id DESC
		 LIMIT ?`,
		where,
	)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e          Entry
			recordedAt string
		)
		if err := rows.Scan(&e.ID, &e.Direction, &e.Topic, &e.Payload, &e.QoS, &e.ClientID, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		if e.RecordedAt, err = parseTimestamp(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// ConnectionHistory returns the most recent state transitions, newest first.
func (r *SQLiteRepository) ConnectionHistory(ctx context.Context, limit int) ([]ConnectionEvent, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, from_state, to_state, client_id, error, recorded_at
		 FROM connection_events
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying connection events: %w", err)
	}
	defer rows.Close()

	events := make([]ConnectionEvent, 0, limit)
	for rows.Next() {
		var (
			ev         ConnectionEvent
			recordedAt string
		)
		if err := rows.Scan(&ev.ID, &ev.From, &ev.To, &ev.ClientID, &ev.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning connection event: %w", err)
		}
		if ev.RecordedAt, err = parseTimestamp(recordedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating connection events: %w", err)
	}
	return events, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}
