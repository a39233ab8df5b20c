package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQL dialects understood by SQLStore.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// SQLStore keeps sessions in a Postgres or MySQL table, one JSON document
// per row. Expired rows are removed on load and by Cleanup.
type SQLStore struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// DriverName maps a dialect to its registered database/sql driver.
func DriverName(dialect string) (string, error) {
	switch dialect {
	case DialectPostgres, "postgresql":
		return "pgx", nil // pgx/v5/stdlib registers as "pgx"
	case DialectMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported session dialect %q", dialect)
	}
}

// OpenSQLStore connects to dsn and creates the sessions table if needed.
func OpenSQLStore(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	driver, err := DriverName(dialect)
	if err != nil {
		return nil, err
	}
	if dialect == "postgresql" {
		dialect = DialectPostgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect sessions db: %w", err)
	}

	s := &SQLStore{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS courier_sessions (
		id         VARCHAR(64) PRIMARY KEY,
		data       TEXT NOT NULL,
		expires_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) upsertQuery() string {
	if s.dialect == DialectMySQL {
		return `INSERT INTO courier_sessions (id, data, expires_at) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE data = VALUES(data), expires_at = VALUES(expires_at)`
	}
	return rebind(s.dialect, `INSERT INTO courier_sessions (id, data, expires_at) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`)
}

// Load fetches and decodes a session.
func (s *SQLStore) Load(ctx context.Context, id string) (*Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, rebind(s.dialect, `SELECT data FROM courier_sessions WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Expired(s.now()) {
		_ = s.Delete(ctx, id)
		return nil, ErrExpired
	}
	return &sess, nil
}

// Save inserts or replaces sess.
func (s *SQLStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("save session: missing id")
	}
	if sess.Expired(s.now()) {
		return ErrExpired
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	var expires int64
	if !sess.ExpiresAt.IsZero() {
		expires = sess.ExpiresAt.UnixNano()
	}
	if _, err := s.db.ExecContext(ctx, s.upsertQuery(), sess.ID, string(data), expires); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, rebind(s.dialect, `DELETE FROM courier_sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Cleanup deletes expired sessions and returns how many were removed.
func (s *SQLStore) Cleanup(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		rebind(s.dialect, `DELETE FROM courier_sessions WHERE expires_at > 0 AND expires_at <= ?`),
		s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
