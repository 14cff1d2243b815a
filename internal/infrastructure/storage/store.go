package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// timeLayout is fixed width so stored timestamps sort lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z"

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	defaultQualityTier = 3
)

// Options selects the backing database.
type Options struct {
	Driver      string
	DSN         string
	DefaultTier int
}

// Store persists jobs, sources, reports and the read-only directory and corpus
// tables. All SQL goes through squirrel so one code path serves both dialects.
type Store struct {
	db          *sql.DB
	driver      string
	sb          sq.StatementBuilderType
	defaultTier int
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		driver = DriverSQLite
	}
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, errors.New("open store: dsn is required")
	}

	var placeholder sq.PlaceholderFormat
	switch driver {
	case DriverPostgres:
		placeholder = sq.Dollar
	case DriverSQLite:
		placeholder = sq.Question
	default:
		return nil, fmt.Errorf("open store: unsupported driver %q", opts.Driver)
	}

	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys = ON",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
			}
		}
	}

	tier := opts.DefaultTier
	if tier <= 0 {
		tier = defaultQualityTier
	}

	store := &Store{
		db:          db,
		driver:      driver,
		sb:          sq.StatementBuilder.PlaceholderFormat(placeholder),
		defaultTier: tier,
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) exec(ctx context.Context, builder sq.Sqlizer) (sql.Result, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var res sql.Result
	if err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) query(ctx context.Context, builder sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, builder sq.Sqlizer) (*sql.Row, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func parseTimePtr(raw sql.NullString) *time.Time {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	t := parseTime(raw.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
