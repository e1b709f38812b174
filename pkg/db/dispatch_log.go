package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/rpc-dispatch/pkg/events"
)

const dispatchLogPrefix = "db:dispatch_log"

// LogEntry is one recorded dispatch.
type LogEntry struct {
	ID         int64
	Category   string
	Path       string
	Verb       string
	Ok         bool
	StatusCode int
	DurationMs int64
	Created    time.Time
}

// Store records dispatch outcomes in the dispatch_log table. It implements
// events.Publisher so it can be wired directly into the dispatcher.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// PublishDispatched inserts one dispatch_log row.
func (s *Store) PublishDispatched(ctx context.Context, event *events.DispatchCompletedEvent) error {
	slog.Debug(fmt.Sprintf("%s - recording %s %s status=%d", dispatchLogPrefix, event.Category, event.Path, event.StatusCode))

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dispatch_log (category, path, verb, ok, status_code, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.Category, event.Path, event.Verb, event.Ok, event.StatusCode, event.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("%s - insert failed: %w", dispatchLogPrefix, err)
	}
	return nil
}

// RecentEntries returns the newest entries, most recent first.
func (s *Store) RecentEntries(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, category, path, verb, ok, status_code, duration_ms, created
		 FROM dispatch_log
		 ORDER BY created DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - RecentEntries failed: %w", dispatchLogPrefix, err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(
			&e.ID, &e.Category, &e.Path, &e.Verb,
			&e.Ok, &e.StatusCode, &e.DurationMs, &e.Created,
		); err != nil {
			return nil, fmt.Errorf("%s - RecentEntries scan failed: %w", dispatchLogPrefix, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
