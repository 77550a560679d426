package ledger

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var familyColumns = []string{"family_id", "subject_id", "sequence", "status", "issued_at", "last_rotated_at", "expires_at", "client_ip", "user_agent"}

func newPostgresMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, Postgres), mock
}

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ? WHERE b = ? AND c = ?`
	assert.Equal(t, `UPDATE t SET a = $1 WHERE b = $2 AND c = $3`, Postgres.rebind(q))
	assert.Equal(t, q, SQLite.rebind(q))
}

func TestPostgresRotateSuccess(t *testing.T) {
	s, mock := newPostgresMock(t)
	now := epoch.Add(time.Minute)

	rows := sqlmock.NewRows(familyColumns).
		AddRow("f1", "u1", int64(5), "rotated", epoch.UnixMilli(), now.UnixMilli(), epoch.Add(time.Hour).UnixMilli(), "10.0.0.7", "curl/8.5")
	mock.ExpectQuery(`(?s)^UPDATE\s+refresh_families\s+SET\s+sequence = sequence \+ 1.*WHERE family_id = \$3 AND sequence = \$4.*RETURNING`).
		WithArgs("rotated", now.UnixMilli(), "f1", int64(4), "revoked", now.UnixMilli()).
		WillReturnRows(rows)

	e, err := s.Rotate(context.Background(), "f1", 4, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), e.Sequence)
	assert.Equal(t, StatusRotated, e.Status)
	assert.Equal(t, "u1", e.SubjectID)
	assert.Equal(t, "10.0.0.7", e.ClientIP)
	assert.Equal(t, "curl/8.5", e.UserAgent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRotateMismatchRevokes(t *testing.T) {
	s, mock := newPostgresMock(t)
	now := epoch.Add(time.Minute)

	mock.ExpectQuery(`(?s)^UPDATE\s+refresh_families.*RETURNING`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)^SELECT\s+family_id.*FROM refresh_families WHERE family_id = \$1`).
		WithArgs("f1").
		WillReturnRows(sqlmock.NewRows(familyColumns).
			AddRow("f1", "u1", int64(3), "rotated", epoch.UnixMilli(), epoch.UnixMilli(), epoch.Add(time.Hour).UnixMilli(), "", ""))
	mock.ExpectExec(`(?s)^UPDATE\s+refresh_families SET status = \$1.*WHERE family_id = \$3 AND status <> \$4`).
		WithArgs("revoked", now.UnixMilli(), "f1", "revoked").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := s.Rotate(context.Background(), "f1", 1, now)
	assert.ErrorIs(t, err, ErrReplayDetected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRotateRevokedAndMissing(t *testing.T) {
	s, mock := newPostgresMock(t)
	cols := familyColumns

	mock.ExpectQuery(`(?s)^UPDATE\s+refresh_families.*RETURNING`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)^SELECT`).WillReturnRows(sqlmock.NewRows(cols).
		AddRow("f1", "u1", int64(1), "revoked", epoch.UnixMilli(), epoch.UnixMilli(), epoch.Add(time.Hour).UnixMilli(), "", ""))
	_, err := s.Rotate(context.Background(), "f1", 1, epoch)
	assert.ErrorIs(t, err, ErrFamilyRevoked)

	mock.ExpectQuery(`(?s)^UPDATE\s+refresh_families.*RETURNING`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)^SELECT`).WillReturnRows(sqlmock.NewRows(cols))
	_, err = s.Rotate(context.Background(), "f2", 0, epoch)
	assert.ErrorIs(t, err, ErrFamilyNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackendFailure(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectQuery(`(?s)^UPDATE\s+refresh_families.*RETURNING`).WillReturnError(errors.New("connection reset"))

	_, err := s.Rotate(context.Background(), "f1", 0, epoch)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgresRegisterConflict(t *testing.T) {
	s, mock := newPostgresMock(t)
	e := newEntry("f1", "u1")

	mock.ExpectExec(`(?s)^DELETE FROM refresh_families WHERE family_id = \$1 AND expires_at <= \$2`).
		WithArgs("f1", e.IssuedAt.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)^INSERT INTO refresh_families.*ON CONFLICT \(family_id\) DO NOTHING`).
		WithArgs("f1", "u1", int64(0), "active", e.IssuedAt.UnixMilli(), e.IssuedAt.UnixMilli(), e.ExpiresAt.UnixMilli(), "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.Register(context.Background(), e), ErrFamilyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateUsesEmbeddedDir(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()
	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, Migrate(context.Background(), db, Postgres))
	assert.Equal(t, "migrations", gotDir)

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	err = Migrate(context.Background(), db, Postgres)
	assert.ErrorContains(t, err, "boom")
}

func TestSQLitePurge(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db, SQLite))

	s := NewSQLStore(db, SQLite)
	require.NoError(t, s.Register(ctx, newEntry("f1", "u1")))
	require.NoError(t, s.Register(ctx, newEntry("f2", "u1")))

	n, err := s.Purge(ctx, epoch.Add(48*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	_, err = s.Get(ctx, "f1", epoch)
	assert.ErrorIs(t, err, ErrFamilyNotFound)
}

func TestPostgresListSubjectFiltersInQuery(t *testing.T) {
	s, mock := newPostgresMock(t)
	now := epoch.Add(time.Minute)

	mock.ExpectQuery(`(?s)^SELECT\s+family_id.*FROM refresh_families\s+WHERE subject_id = \$1 AND status <> \$2 AND expires_at > \$3\s+ORDER BY issued_at, family_id`).
		WithArgs("u1", "revoked", now.UnixMilli()).
		WillReturnRows(sqlmock.NewRows(familyColumns).
			AddRow("f1", "u1", int64(0), "active", epoch.UnixMilli(), epoch.UnixMilli(), epoch.Add(time.Hour).UnixMilli(), "10.0.0.7", "curl/8.5").
			AddRow("f2", "u1", int64(2), "rotated", epoch.UnixMilli(), now.UnixMilli(), epoch.Add(time.Hour).UnixMilli(), "", ""))

	got, err := s.ListSubject(context.Background(), "u1", now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "10.0.0.7", got[0].ClientIP)
	assert.Equal(t, uint64(2), got[1].Sequence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteMigrationAddsClientColumns(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(ctx, db, SQLite))
	// A second run is a no-op.
	require.NoError(t, Migrate(ctx, db, SQLite))

	s := NewSQLStore(db, SQLite)
	e := newEntry("f1", "u1")
	e.ClientIP, e.UserAgent = "192.0.2.4", "Mozilla/5.0"
	require.NoError(t, s.Register(ctx, e))

	got, err := s.Get(ctx, "f1", epoch)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.4", got.ClientIP)
	assert.Equal(t, "Mozilla/5.0", got.UserAgent)
}
