package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS queued_emails (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    status INTEGER NOT NULL DEFAULT 0,
    subject TEXT NOT NULL DEFAULT '',
    raw_message TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    sent_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_queued_emails_status ON queued_emails(status, id);
CREATE INDEX IF NOT EXISTS idx_queued_emails_created_at ON queued_emails(created_at);
`

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS queued_emails (
    id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
    status TINYINT NOT NULL DEFAULT 0,
    subject VARCHAR(998) NOT NULL DEFAULT '',
    raw_message LONGTEXT NOT NULL,
    created_at BIGINT NOT NULL,
    sent_at BIGINT NULL,
    INDEX idx_queued_emails_status (status, id),
    INDEX idx_queued_emails_created_at (created_at)
) DEFAULT CHARSET=utf8mb4`,
}

const selectColumns = `SELECT id, status, subject, raw_message, created_at, sent_at FROM queued_emails`

// SQLStore is a Store backed by SQLite (modernc.org/sqlite) or MySQL.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// OpenSQL opens the database for driver ("sqlite" or "mysql") and creates
// the queue table when missing.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite", "mysql":
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		// single connection keeps :memory: databases shared and writes serialized
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &SQLStore{db: db, driver: driver, now: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	stmts := []string{sqliteSchema}
	if s.driver == "mysql" {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, item *Item) error {
	if item.ID == 0 {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = s.now()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO queued_emails (status, subject, raw_message, created_at, sent_at) VALUES (?, ?, ?, ?, ?)`,
			int(item.Status), item.Subject, item.RawMessage, item.CreatedAt.Unix(), unixOrNil(item.SentAt))
		if err != nil {
			return fmt.Errorf("failed to insert queue item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read queue item id: %w", err)
		}
		item.ID = id
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE queued_emails SET status = ?, subject = ?, raw_message = ?, sent_at = ? WHERE id = ?`,
		int(item.Status), item.Subject, item.RawMessage, unixOrNil(item.SentAt), item.ID)
	if err != nil {
		return fmt.Errorf("failed to update queue item %d: %w", item.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 for unchanged rows, so confirm the row is really gone.
		if _, err := s.Load(ctx, item.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load queue item %d: %w", id, err)
	}
	return item, nil
}

func (s *SQLStore) Query(ctx context.Context, status Status, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? ORDER BY id ASC LIMIT ?`, int(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	return collect(rows)
}

func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Item, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}

	var (
		where strings.Builder
		args  []any
	)
	if opts.Status != nil {
		where.WriteString(` WHERE status = ?`)
		args = append(args, int(*opts.Status))
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx,
		selectColumns+where.String()+` ORDER BY id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return collect(rows)
}

func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM queued_emails WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queue item %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) DeleteOlderThan(ctx context.Context, days int, status Status) (int64, error) {
	if err := CheckRetentionStatus(status); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queued_emails WHERE status = ? AND created_at <= ?`,
		int(status), cutoff(s.now(), days).Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s items: %w", status, err)
	}
	return res.RowsAffected()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*Item, error) {
	var (
		item    Item
		status  int
		created int64
		sent    sql.NullInt64
	)
	if err := r.Scan(&item.ID, &status, &item.Subject, &item.RawMessage, &created, &sent); err != nil {
		return nil, err
	}
	item.Status = Status(status)
	item.CreatedAt = time.Unix(created, 0)
	if sent.Valid {
		t := time.Unix(sent.Int64, 0)
		item.SentAt = &t
	}
	return &item, nil
}

func collect(rows *sql.Rows) ([]*Item, error) {
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue rows: %w", err)
	}
	return out, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}
