package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// SQLSource runs a scalar query against a SQL database. The query must
// return exactly one row with exactly one numeric column; anything
// else is an error for that sample, never a partial result.
type SQLSource struct {
	name  string
	db    *sqlx.DB
	query string
}

// NewSQLSource opens a connection pool for the given DSN. The
// connection itself is established lazily on the first fetch.
func NewSQLSource(name, dsn, query string) (*SQLSource, error) {
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open source %q: %w", name, err)
	}
	// One poller per source; a large pool would only hide stuck queries.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	return &SQLSource{name: name, db: db, query: query}, nil
}

// Name implements Source.
func (s *SQLSource) Name() string {
	return s.name
}

// Query returns the configured scalar query.
func (s *SQLSource) Query() string {
	return s.query
}

// FetchScalar implements Source.
func (s *SQLSource) FetchScalar(ctx context.Context) (float64, error) {
	rows, err := s.db.QueryxContext(ctx, s.query)
	if err != nil {
		return 0, fmt.Errorf("source %q: %w", s.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("source %q: %w", s.name, err)
	}
	if len(cols) != 1 {
		return 0, fmt.Errorf("source %q: query must return exactly one column, got %d", s.name, len(cols))
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("source %q: %w", s.name, err)
		}
		return 0, fmt.Errorf("source %q: query returned no rows", s.name)
	}
	var raw any
	if err := rows.Scan(&raw); err != nil {
		return 0, fmt.Errorf("source %q: %w", s.name, err)
	}
	if rows.Next() {
		return 0, fmt.Errorf("source %q: query must return exactly one row", s.name)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("source %q: %w", s.name, err)
	}

	val, err := coerceScalar(raw)
	if err != nil {
		return 0, fmt.Errorf("source %q: %w", s.name, err)
	}
	return val, nil
}

// Close implements Source.
func (s *SQLSource) Close() error {
	return s.db.Close()
}

// coerceScalar converts the driver value to float64, accepting the
// numeric types pq hands back plus numeric strings (NUMERIC columns
// arrive as text).
func coerceScalar(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case []byte:
		return parseNumeric(string(v))
	case string:
		return parseNumeric(v)
	case nil:
		return 0, errors.New("query returned NULL")
	default:
		return 0, fmt.Errorf("returned value is not numeric (%T)", raw)
	}
}

func parseNumeric(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("returned value is not numeric: %q", s)
	}
	return f, nil
}
