package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect selects SQL flavour differences.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

func (d Dialect) gooseDialect() string {
	if d == SQLite {
		return "sqlite3"
	}
	return "pgx"
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// OpenPostgres opens a pgx-backed handle and pings it.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a SQLite database at path. SQLite allows one writer, so
// the pool is capped at a single connection.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(dialect.gooseDialect()); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate refresh ledger: %w", err)
	}
	return nil
}

// SQLStore keeps families in the refresh_families table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open handle. Call Migrate first.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	if dialect == "" {
		dialect = Postgres
	}
	return &SQLStore{db: db, dialect: dialect}
}

const entryColumns = `family_id, subject_id, sequence, status, issued_at, last_rotated_at, expires_at, client_ip, user_agent`

// Register implements Store. An expired row with the same id is replaced.
func (s *SQLStore) Register(ctx context.Context, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM refresh_families WHERE family_id = ? AND expires_at <= ?`),
		e.FamilyID, e.IssuedAt.UnixMilli(),
	); err != nil {
		return unavailable(err)
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO refresh_families (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (family_id) DO NOTHING`),
		e.FamilyID, e.SubjectID, int64(e.Sequence), string(StatusActive),
		e.IssuedAt.UnixMilli(), e.IssuedAt.UnixMilli(), e.ExpiresAt.UnixMilli(),
		e.ClientIP, e.UserAgent,
	)
	if err != nil {
		return unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return ErrFamilyExists
	}
	return nil
}

// Rotate implements Store. The compare-and-increment is one conditional
// UPDATE; the follow-up read only classifies the failure.
func (s *SQLStore) Rotate(ctx context.Context, familyID string, presented uint64, now time.Time) (Entry, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`UPDATE refresh_families
		SET sequence = sequence + 1, status = ?, last_rotated_at = ?
		WHERE family_id = ? AND sequence = ? AND status <> ? AND expires_at > ?
		RETURNING `+entryColumns),
		string(StatusRotated), now.UnixMilli(),
		familyID, int64(presented), string(StatusRevoked), now.UnixMilli(),
	)
	e, err := scanEntry(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Entry{}, unavailable(err)
	}

	cur, err := s.get(ctx, familyID)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrFamilyNotFound
	}
	if err != nil {
		return Entry{}, unavailable(err)
	}
	switch {
	case !now.Before(cur.ExpiresAt):
		return Entry{}, ErrFamilyNotFound
	case cur.Status == StatusRevoked:
		return Entry{}, ErrFamilyRevoked
	case cur.Sequence == presented:
		return Entry{}, fmt.Errorf("%w: rotation conflict on family %s", ErrUnavailable, familyID)
	}
	if _, err := s.revoke(ctx, familyID, now); err != nil {
		return Entry{}, err
	}
	return Entry{}, ErrReplayDetected
}

// Revoke implements Store.
func (s *SQLStore) Revoke(ctx context.Context, familyID string, now time.Time) error {
	_, err := s.revoke(ctx, familyID, now)
	return err
}

func (s *SQLStore) revoke(ctx context.Context, familyID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE refresh_families SET status = ?, last_rotated_at = ?
		WHERE family_id = ? AND status <> ?`),
		string(StatusRevoked), now.UnixMilli(), familyID, string(StatusRevoked),
	)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// RevokeSubject implements Store.
func (s *SQLStore) RevokeSubject(ctx context.Context, subjectID string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE refresh_families SET status = ?, last_rotated_at = ?
		WHERE subject_id = ? AND status <> ? AND expires_at > ?`),
		string(StatusRevoked), now.UnixMilli(), subjectID, string(StatusRevoked), now.UnixMilli(),
	)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, familyID string, now time.Time) (Entry, error) {
	e, err := s.get(ctx, familyID)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrFamilyNotFound
	}
	if err != nil {
		return Entry{}, unavailable(err)
	}
	if !now.Before(e.ExpiresAt) {
		return Entry{}, ErrFamilyNotFound
	}
	return e, nil
}

// ListSubject implements Store.
func (s *SQLStore) ListSubject(ctx context.Context, subjectID string, now time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT `+entryColumns+` FROM refresh_families
		WHERE subject_id = ? AND status <> ? AND expires_at > ?
		ORDER BY issued_at, family_id`),
		subjectID, string(StatusRevoked), now.UnixMilli(),
	)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// Purge deletes families expired at now.
func (s *SQLStore) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM refresh_families WHERE expires_at <= ?`), now.UnixMilli())
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *SQLStore) get(ctx context.Context, familyID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+entryColumns+` FROM refresh_families WHERE family_id = ?`), familyID)
	return scanEntry(row)
}

func scanEntry(row interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		e                 Entry
		seq               int64
		status            string
		iat, rotated, exp int64
	)
	if err := row.Scan(&e.FamilyID, &e.SubjectID, &seq, &status, &iat, &rotated, &exp, &e.ClientIP, &e.UserAgent); err != nil {
		return Entry{}, err
	}
	e.Sequence = uint64(seq)
	e.Status = Status(status)
	e.IssuedAt = time.UnixMilli(iat).UTC()
	e.LastRotatedAt = time.UnixMilli(rotated).UTC()
	e.ExpiresAt = time.UnixMilli(exp).UTC()
	return e, nil
}
