// Package pgstore provides the PostgreSQL implementation of event.Store.
// Append verifies the expected version against the stream head inside one
// transaction; the UNIQUE (aggregate_id, version) constraint settles
// races on empty streams. Both paths surface as ConflictError.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/argus/internal/event"
)

var tracer = otel.Tracer("github.com/linnemanlabs/argus/internal/event/pgstore")

//go:embed schema.sql
var schema string

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

// Store persists the event log in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New applies the schema and returns a ready Store. The pool stays owned
// by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

const eventColumns = `id, aggregate_id, aggregate_type, event_type, version, ts, data, metadata`

// Append implements event.Store.
func (s *Store) Append(ctx context.Context, aggregateID string, expected int, events []event.Event) ([]event.Event, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Append", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
		attribute.String("argus.aggregate.id", aggregateID),
		attribute.Int("argus.events.count", len(events)),
	))
	defer span.End()

	if len(events) == 0 {
		return nil, nil
	}

	ts := s.now().UTC()
	stored := make([]event.Event, 0, len(events))
	for i, e := range events {
		e.ID = ulid.Make().String()
		e.AggregateID = aggregateID
		e.Version = expected + i + 1
		e.Timestamp = ts
		if e.AggregateType == "" {
			e.AggregateType = event.AggregateInvestigation
		}
		stored = append(stored, e)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	// The expected version must match the head of the stream exactly.
	// Locking the head row serializes appends to the same aggregate; for
	// a brand-new aggregate there is no row to lock and the unique
	// constraint settles concurrent creates.
	var current int
	err = tx.QueryRow(ctx, `
		SELECT version FROM events
		WHERE aggregate_id = $1
		ORDER BY version DESC
		LIMIT 1
		FOR UPDATE`, aggregateID).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("read stream version: %w", err)
	}
	if current != expected {
		return nil, &event.ConflictError{AggregateID: aggregateID, Expected: expected, Actual: current}
	}

	for _, e := range stored {
		_, err := tx.Exec(ctx, `
			INSERT INTO events (id, aggregate_id, aggregate_type, event_type, version, ts, data, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.AggregateID, e.AggregateType, string(e.Type), e.Version, e.Timestamp, e.Data, e.Metadata,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, s.conflict(ctx, aggregateID, expected)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("insert event %s v%d: %w", e.Type, e.Version, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, s.conflict(ctx, aggregateID, expected)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// conflict reads the actual stream version to report a useful error. The
// read is best-effort: the conflict stands even if it fails.
func (s *Store) conflict(ctx context.Context, aggregateID string, expected int) error {
	actual, err := s.Version(ctx, aggregateID)
	if err != nil {
		actual = -1
	}
	return &event.ConflictError{AggregateID: aggregateID, Expected: expected, Actual: actual}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Load implements event.Store.
func (s *Store) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Load", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("argus.aggregate.id", aggregateID),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE aggregate_id = $1
		ORDER BY version`, aggregateID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("argus.events.count", len(events)))
	return events, nil
}

// Version implements event.Store.
func (s *Store) Version(ctx context.Context, aggregateID string) (int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Version", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var version int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`,
		aggregateID).Scan(&version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

// Aggregates implements event.Store.
func (s *Store) Aggregates(ctx context.Context, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Aggregates", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `
		SELECT aggregate_id FROM events
		GROUP BY aggregate_id
		ORDER BY MAX(ts) DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan aggregate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Since implements event.Store.
func (s *Store) Since(ctx context.Context, t time.Time, types []event.Type, limit int) ([]event.Event, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Since", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + eventColumns + ` FROM events WHERE ts > $1`
	args := []any{t}
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, typ := range types {
			names = append(names, string(typ))
		}
		query += ` AND event_type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY ts, id`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query events since %v: %w", t, err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("argus.events.count", len(events)))
	return events, nil
}

func scanEvents(rows pgx.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		var (
			e   event.Event
			typ string
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &typ, &e.Version, &e.Timestamp, &e.Data, &e.Metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = event.Type(typ)
		events = append(events, e)
	}
	return events, rows.Err()
}
