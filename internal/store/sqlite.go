package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/speccheck/speccheck/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound means no archived check exists for the id.
var ErrNotFound = errors.New("check not found in archive")

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors when several checks finish at once.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveCheck upserts a terminal check snapshot and its rendered report.
func (s *SQLiteStore) SaveCheck(ctx context.Context, c *models.Check, report string) error {
	request, err := json.Marshal(c.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	issues, err := json.Marshal(c.Issues)
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}
	warnings, err := json.Marshal(c.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checks (id, repository_url, repository, branch, state, error_code, error, request, issues, warnings, report, accepted_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state=excluded.state, error_code=excluded.error_code, error=excluded.error,
			issues=excluded.issues, warnings=excluded.warnings, report=excluded.report,
			started_at=excluded.started_at, completed_at=excluded.completed_at`,
		c.ID, c.Request.RepositoryURL, c.Repository, c.Request.Branch, string(c.State),
		c.ErrorCode, c.Error, string(request), string(issues), string(warnings), report,
		c.AcceptedAt, nullTime(c.StartedAt), nullTime(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save check: %w", err)
	}
	return nil
}

// GetCheck loads one archived check and its report.
func (s *SQLiteStore) GetCheck(ctx context.Context, id string) (*models.Check, string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, repository, state, error_code, error, request, issues, warnings, report, accepted_at, started_at, completed_at
		FROM checks WHERE id = ?`, id)

	c, report, err := scanCheck(row)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, "", fmt.Errorf("get check: %w", err)
	}
	return c, report, nil
}

// ListChecks returns archived checks newest first.
func (s *SQLiteStore) ListChecks(ctx context.Context, filter ListFilter) ([]*models.Check, error) {
	query := `SELECT id, repository, state, error_code, error, request, issues, warnings, report, accepted_at, started_at, completed_at
		FROM checks WHERE 1=1`
	var args []any
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, string(filter.State))
	}
	if filter.Repository != "" {
		query += " AND repository LIKE ?"
		args = append(args, "%"+filter.Repository+"%")
	}
	query += " ORDER BY accepted_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var checks []*models.Check
	for rows.Next() {
		c, _, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// DeleteCheck removes an archived check.
func (s *SQLiteStore) DeleteCheck(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM checks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete check: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheck(row rowScanner) (*models.Check, string, error) {
	c := &models.Check{}
	var state, request, issues, warnings, report string
	var started, completed sql.NullTime
	err := row.Scan(&c.ID, &c.Repository, &state, &c.ErrorCode, &c.Error,
		&request, &issues, &warnings, &report, &c.AcceptedAt, &started, &completed)
	if err != nil {
		return nil, "", err
	}
	c.State = models.CheckState(state)
	if err := json.Unmarshal([]byte(request), &c.Request); err != nil {
		return nil, "", fmt.Errorf("decode request: %w", err)
	}
	if err := json.Unmarshal([]byte(issues), &c.Issues); err != nil {
		return nil, "", fmt.Errorf("decode issues: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &c.Warnings); err != nil {
		return nil, "", fmt.Errorf("decode warnings: %w", err)
	}
	if started.Valid {
		t := started.Time
		c.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		c.CompletedAt = &t
	}
	return c, report, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
