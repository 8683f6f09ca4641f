package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/meridianhq/orchestrator/pkg/models"
)

// Dialect selects the SQL driver and placeholder syntax, mirroring
// internal/conversation.Dialect.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLLog implements Log over database/sql, dialect-aware across
// postgres and sqlite.
type SQLLog struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLLog opens a pooled connection and verifies it with a ping.
func NewSQLLog(dialect Dialect, dsn string) (*SQLLog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("tasks: dsn is required")
	}
	driver := "postgres"
	if dialect == DialectSQLite {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("tasks: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tasks: ping database: %w", err)
	}
	return &SQLLog{db: db, dialect: dialect}, nil
}

// Close releases the underlying connection pool.
func (l *SQLLog) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *SQLLog) ph(n int) string {
	if l.dialect == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

func (l *SQLLog) Create(ctx context.Context, task *models.Task) error {
	_, err := l.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO tasks (id, kind, payload, state, attempts, max_attempts, last_error, result, claim_token, lease_until, created_at, updated_at, finished_at)
		VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)
	`, l.ph(1), l.ph(2), l.ph(3), l.ph(4), l.ph(5), l.ph(6), l.ph(7), l.ph(8), l.ph(9), l.ph(10), l.ph(11), l.ph(12), l.ph(13)),
		task.ID, string(task.Kind), task.Payload, string(task.State), task.Attempts, task.MaxAttempts,
		nullableString(task.LastError), task.Result, nullableString(task.ClaimToken),
		nullableTime(task.LeaseUntil), task.CreatedAt, task.UpdatedAt, nullableTime(task.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("tasks: create: %w", err)
	}
	return nil
}

func (l *SQLLog) Update(ctx context.Context, task *models.Task) error {
	res, err := l.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE tasks SET kind=%s, payload=%s, state=%s, attempts=%s, max_attempts=%s, last_error=%s,
			result=%s, claim_token=%s, lease_until=%s, updated_at=%s, finished_at=%s
		WHERE id=%s
	`, l.ph(1), l.ph(2), l.ph(3), l.ph(4), l.ph(5), l.ph(6), l.ph(7), l.ph(8), l.ph(9), l.ph(10), l.ph(11), l.ph(12)),
		string(task.Kind), task.Payload, string(task.State), task.Attempts, task.MaxAttempts,
		nullableString(task.LastError), task.Result, nullableString(task.ClaimToken),
		nullableTime(task.LeaseUntil), task.UpdatedAt, nullableTime(task.FinishedAt), task.ID,
	)
	if err != nil {
		return fmt.Errorf("tasks: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *SQLLog) Get(ctx context.Context, id string) (*models.Task, error) {
	row := l.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, kind, payload, state, attempts, max_attempts, last_error, result, claim_token, lease_until, created_at, updated_at, finished_at
		FROM tasks WHERE id=%s
	`, l.ph(1)), id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: get: %w", err)
	}
	return t, nil
}

func (l *SQLLog) ListNonTerminal(ctx context.Context) ([]*models.Task, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, kind, payload, state, attempts, max_attempts, last_error, result, claim_token, lease_until, created_at, updated_at, finished_at
		FROM tasks WHERE state NOT IN ('COMPLETED','FAILED','CANCELLED')
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("tasks: list non-terminal: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("tasks: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *SQLLog) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := l.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM tasks WHERE state IN ('COMPLETED','FAILED','CANCELLED') AND finished_at < %s
	`, l.ph(1)), cutoff)
	if err != nil {
		return 0, fmt.Errorf("tasks: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*models.Task, error) {
	var t models.Task
	var kind, state string
	var lastError, claimToken sql.NullString
	var leaseUntil, finishedAt sql.NullTime
	if err := row.Scan(&t.ID, &kind, &t.Payload, &state, &t.Attempts, &t.MaxAttempts,
		&lastError, &t.Result, &claimToken, &leaseUntil, &t.CreatedAt, &t.UpdatedAt, &finishedAt); err != nil {
		return nil, err
	}
	t.Kind = models.TaskKind(kind)
	t.State = models.TaskState(state)
	t.LastError = lastError.String
	t.ClaimToken = claimToken.String
	if leaseUntil.Valid {
		v := leaseUntil.Time
		t.LeaseUntil = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Time
		t.FinishedAt = &v
	}
	return &t, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
