// Package store persists ingested quakes in SQLite.
//
// The quakes table carries a UNIQUE index on occurred_at, so a second insert
// for the same event is rejected even when two writers both passed the
// Exists check. Every successful insert or delete is announced on the change
// stream returned by Changes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
	"github.com/couchcryptid/seismic-feed-service/internal/notify"
)

const table = "quakes"

var columns = []string{"id", "occurred_at", "details", "latitude", "longitude", "magnitude", "link", "ingested_at"}

// Store is the SQLite-backed event store. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	changes *notify.Broker[domain.Change]
	logger  *slog.Logger
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := connection(path)
	if err != nil {
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:      db,
		changes: notify.NewBroker[domain.Change](),
		logger:  logger,
	}, nil
}

// Close ends every change subscription and closes the database.
func (s *Store) Close() error {
	s.changes.Close()
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	return nil
}

// Changes subscribes to insert and delete notifications.
func (s *Store) Changes(buffer int) *notify.Subscription[domain.Change] {
	return s.changes.Subscribe(buffer)
}

// Exists reports whether a quake with the given OccurredAt is stored.
func (s *Store) Exists(ctx context.Context, occurredAt time.Time) (bool, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("1").From(table).Where(sb.Equal("occurred_at", occurredAt.UnixMilli())).Limit(1)
	query, args := sb.Build()

	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return true, nil
}

// Insert stores q and returns it with its assigned ID. A quake whose
// OccurredAt is already stored is rejected with a duplicate StoreError.
func (s *Store) Insert(ctx context.Context, q domain.Quake) (domain.StoredQuake, error) {
	stored := domain.NewStoredQuake(0, q)

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertInto(table).
		Cols(columns[1:]...).
		Values(
			q.OccurredAt.UnixMilli(),
			q.Details,
			q.Latitude,
			q.Longitude,
			q.Magnitude,
			q.Link,
			stored.IngestedAt.UnixMilli(),
		)
	query, args := ib.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.StoredQuake{}, &domain.StoreError{Reason: domain.StoreDuplicate, Err: err}
		}
		return domain.StoredQuake{}, &domain.StoreError{Reason: domain.StoreWriteFailed, Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.StoredQuake{}, &domain.StoreError{Reason: domain.StoreWriteFailed, Err: err}
	}
	stored.ID = id

	s.logger.Debug("quake stored",
		"id", id,
		"occurred_at", q.OccurredAt.Format(time.RFC3339),
		"magnitude", q.Magnitude,
	)
	s.changes.Publish(domain.Change{Kind: domain.ChangeInserted, IDs: []int64{id}, Count: 1})
	return stored, nil
}

// DeleteByID removes the quake with the given ID and returns the number of rows removed.
func (s *Store) DeleteByID(ctx context.Context, id int64) (int64, error) {
	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom(table).Where(db.Equal("id", id))
	query, args := db.Build()

	n, err := s.execDelete(ctx, query, args)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.changes.Publish(domain.Change{Kind: domain.ChangeDeleted, IDs: []int64{id}, Count: n})
	}
	return n, nil
}

// Delete removes every quake matching f. An empty filter is refused with
// domain.ErrEmptyFilter. Limit is ignored.
func (s *Store) Delete(ctx context.Context, f domain.Filter) (int64, error) {
	if f.IsEmpty() {
		return 0, domain.ErrEmptyFilter
	}

	db := sqlbuilder.SQLite.NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(filterExprs(&db.Cond, f)...)
	query, args := db.Build()

	n, err := s.execDelete(ctx, query, args)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("quakes deleted", "count", n)
		s.changes.Publish(domain.Change{Kind: domain.ChangeDeleted, Count: n})
	}
	return n, nil
}

func (s *Store) execDelete(ctx context.Context, query string, args []any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete quakes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete quakes: %w", err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
