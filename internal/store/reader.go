package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"

	"github.com/couchcryptid/seismic-feed-service/internal/domain"
)

// DefaultSuggestLimit caps suggestion results when the caller passes no limit.
const DefaultSuggestLimit = 10

// Query returns the quakes matching f in the requested order.
// SortOccurredAsc is the default.
func (s *Store) Query(ctx context.Context, f domain.Filter, order domain.Sort) ([]domain.StoredQuake, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(columns...).From(table)
	if exprs := filterExprs(&sb.Cond, f); len(exprs) > 0 {
		sb.Where(exprs...)
	}
	sb.OrderBy(orderBy(order)...)
	if f.Limit > 0 {
		sb.Limit(f.Limit)
	}
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query quakes: %w", err)
	}
	defer rows.Close()

	quakes := make([]domain.StoredQuake, 0)
	for rows.Next() {
		q, err := scanQuake(rows)
		if err != nil {
			return nil, err
		}
		quakes = append(quakes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query quakes: %w", err)
	}
	return quakes, nil
}

// Get returns the quake with the given ID, or domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (domain.StoredQuake, error) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(columns...).From(table).Where(sb.Equal("id", id))
	query, args := sb.Build()

	q, err := scanQuake(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoredQuake{}, domain.ErrNotFound
	}
	return q, err
}

// Suggest returns (id, details) pairs whose details contain term.
func (s *Store) Suggest(ctx context.Context, term string, limit int) ([]domain.Suggestion, error) {
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("id", "details").From(table)
	if term != "" {
		sb.Where(containsExpr(&sb.Cond, "details", term))
	}
	sb.OrderBy(orderBy(domain.SortOccurredAsc)...).Limit(limit)
	query, args := sb.Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	defer rows.Close()

	suggestions := make([]domain.Suggestion, 0)
	for rows.Next() {
		var sg domain.Suggestion
		if err := rows.Scan(&sg.ID, &sg.Details); err != nil {
			return nil, fmt.Errorf("suggest: scan: %w", err)
		}
		suggestions = append(suggestions, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	return suggestions, nil
}

// filterExprs translates f into WHERE expressions bound to cond's arguments.
func filterExprs(cond *sqlbuilder.Cond, f domain.Filter) []string {
	var exprs []string
	if f.MinMagnitude > 0 {
		exprs = append(exprs, cond.GreaterEqualThan("magnitude", f.MinMagnitude))
	}
	if f.MaxMagnitude > 0 {
		exprs = append(exprs, cond.LessThan("magnitude", f.MaxMagnitude))
	}
	if !f.Since.IsZero() {
		exprs = append(exprs, cond.GreaterEqualThan("occurred_at", f.Since.UnixMilli()))
	}
	if !f.Until.IsZero() {
		exprs = append(exprs, cond.LessThan("occurred_at", f.Until.UnixMilli()))
	}
	if f.DetailsContains != "" {
		exprs = append(exprs, containsExpr(cond, "details", f.DetailsContains))
	}
	return exprs
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsExpr matches term as a literal substring of column.
func containsExpr(cond *sqlbuilder.Cond, column, term string) string {
	return fmt.Sprintf(`%s LIKE %s ESCAPE '\'`, column, cond.Var("%"+likeEscaper.Replace(term)+"%"))
}

// orderBy always ends with id so equal keys come back in insertion order.
func orderBy(order domain.Sort) []string {
	switch order {
	case domain.SortOccurredDesc:
		return []string{"occurred_at DESC", "id DESC"}
	case domain.SortMagnitudeDesc:
		return []string{"magnitude DESC", "occurred_at ASC", "id ASC"}
	default:
		return []string{"occurred_at ASC", "id ASC"}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuake(row scanner) (domain.StoredQuake, error) {
	var (
		q                      domain.StoredQuake
		occurredMs, ingestedMs int64
	)
	err := row.Scan(&q.ID, &occurredMs, &q.Details, &q.Latitude, &q.Longitude, &q.Magnitude, &q.Link, &ingestedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoredQuake{}, err
	}
	if err != nil {
		return domain.StoredQuake{}, fmt.Errorf("scan quake: %w", err)
	}
	q.OccurredAt = time.UnixMilli(occurredMs).UTC()
	q.IngestedAt = time.UnixMilli(ingestedMs).UTC()
	return q, nil
}
