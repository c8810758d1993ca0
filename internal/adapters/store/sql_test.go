package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/Audric-Dune/mondon-server/internal/domain"
)

var (
	createQuery = regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS mondon_speed (time BIGINT PRIMARY KEY, speed BIGINT NOT NULL)")
	insertQuery = regexp.QuoteMeta("INSERT INTO mondon_speed (time, speed) VALUES ($1, $2)")
)

func testConfig() Config {
	return Config{Driver: DriverPostgres, DSN: "postgres://test", Table: "mondon_speed", RetryAttempts: 3, RetryDelay: time.Millisecond}
}

// mockFactory hands out the given sqlmock databases one per connect.
func mockFactory(t *testing.T, dbs ...*sql.DB) DBFactory {
	t.Helper()
	var next int
	return func(context.Context) (*sql.DB, error) {
		if next >= len(dbs) {
			return nil, errors.New("no more mock databases")
		}
		db := dbs[next]
		next++
		return db, nil
	}
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.ExpectExec(createQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	return db, mock
}

func TestSQLStoreInsert(t *testing.T) {
	db, mock := newMock(t)
	reading := domain.Reading{TimestampMillis: 1_700_000_000_123, Speed: 66}
	mock.ExpectExec(insertQuery).
		WithArgs(int64(1_700_000_000_123), int64(66)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s, err := NewSQLStore(context.Background(), Postgres, testConfig(), mockFactory(t, db), newMockObs())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	if err := s.Insert(context.Background(), reading); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreRetriesTransientThenSucceeds(t *testing.T) {
	db, mock := newMock(t)
	busy := &pq.Error{Code: "40P01", Message: "deadlock detected"}
	mock.ExpectExec(insertQuery).WillReturnError(busy)
	mock.ExpectExec(insertQuery).WillReturnError(busy)
	mock.ExpectExec(insertQuery).WillReturnResult(sqlmock.NewResult(1, 1))

	obs := newMockObs()
	s, err := NewSQLStore(context.Background(), Postgres, testConfig(), mockFactory(t, db), obs)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	if err := s.Insert(context.Background(), domain.Reading{TimestampMillis: 10, Speed: 1}); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if obs.counters["mondon_store_retries_total"] != 2 {
		t.Fatalf("expected 2 retries, got %v", obs.counters["mondon_store_retries_total"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreGivesUpAfterThreeAttempts(t *testing.T) {
	db, mock := newMock(t)
	busy := &pq.Error{Code: "55P03", Message: "lock not available"}
	for i := 0; i < 3; i++ {
		mock.ExpectExec(insertQuery).WillReturnError(busy)
	}

	s, err := NewSQLStore(context.Background(), Postgres, testConfig(), mockFactory(t, db), newMockObs())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	reading := domain.Reading{TimestampMillis: 20, Speed: 2}
	err = s.Insert(context.Background(), reading)
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if perr.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", perr.Attempts)
	}
	if perr.Reading != reading {
		t.Fatalf("expected error to carry reading %+v, got %+v", reading, perr.Reading)
	}
	if !errors.Is(err, busy) {
		t.Fatalf("expected underlying cause to be preserved, got %v", err)
	}
	if domain.IsSessionFatal(err) {
		t.Fatalf("persistence errors must not be session fatal")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreDuplicateTimestampIsSuccess(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(insertQuery).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	obs := newMockObs()
	s, err := NewSQLStore(context.Background(), Postgres, testConfig(), mockFactory(t, db), obs)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	if err := s.Insert(context.Background(), domain.Reading{TimestampMillis: 30, Speed: 3}); err != nil {
		t.Fatalf("duplicate should be a no-op, got %v", err)
	}
	if obs.counters["mondon_store_duplicates_total"] != 1 {
		t.Fatalf("expected duplicate to be counted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreFatalErrorReconnects(t *testing.T) {
	db1, mock1 := newMock(t)
	mock1.ExpectExec(insertQuery).WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})
	mock1.ExpectClose()

	db2, mock2 := newMock(t)
	mock2.ExpectExec(insertQuery).WillReturnResult(sqlmock.NewResult(1, 1))

	obs := newMockObs()
	s, err := NewSQLStore(context.Background(), Postgres, testConfig(), mockFactory(t, db1, db2), obs)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	if err := s.Insert(context.Background(), domain.Reading{TimestampMillis: 40, Speed: 4}); err != nil {
		t.Fatalf("expected insert to succeed on rebuilt connection, got %v", err)
	}
	if obs.counters["mondon_store_reconnects_total"] != 1 {
		t.Fatalf("expected one reconnect, got %v", obs.counters["mondon_store_reconnects_total"])
	}
	if err := mock1.ExpectationsWereMet(); err != nil {
		t.Fatalf("first connection: %v", err)
	}
	if err := mock2.ExpectationsWereMet(); err != nil {
		t.Fatalf("second connection: %v", err)
	}
}

func TestSQLStoreReconnectCountsAsAttempt(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(insertQuery).WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	s, err := NewSQLStore(context.Background(), Postgres, testConfig(), mockFactory(t, db), newMockObs())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	// Every reconnect fails because the factory is exhausted.
	err = s.Insert(context.Background(), domain.Reading{TimestampMillis: 50, Speed: 5})
	var perr *domain.PersistenceError
	if !errors.As(err, &perr) || perr.Attempts != 3 {
		t.Fatalf("expected PersistenceError after 3 attempts, got %v", err)
	}
}

func TestClassifyPostgres(t *testing.T) {
	cases := map[pq.ErrorCode]errClass{
		"23505": classDuplicate,
		"40001": classTransient,
		"08003": classFatal,
		"57P01": classFatal,
		"42P01": classOther,
	}
	for code, want := range cases {
		if got := classifyPostgres(&pq.Error{Code: code}); got != want {
			t.Fatalf("code %s: expected %s, got %s", code, want, got)
		}
	}
	if got := classifyPostgres(sql.ErrConnDone); got != classFatal {
		t.Fatalf("expected ErrConnDone to be fatal, got %s", got)
	}
}

func TestSQLiteStoreIdempotentInsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mondon.db")
	cfg := Config{Driver: DriverSQLite, DSN: path}

	s, err := Open(context.Background(), cfg, newMockObs())
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer s.Close()

	reading := domain.Reading{TimestampMillis: 1_700_000_000_000, Speed: 120}
	if err := s.Insert(context.Background(), reading); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.Insert(context.Background(), reading); err != nil {
		t.Fatalf("second insert must be a no-op, got %v", err)
	}
	// First writer wins: a different speed for the same millisecond is dropped.
	if err := s.Insert(context.Background(), domain.Reading{TimestampMillis: reading.TimestampMillis, Speed: 5}); err != nil {
		t.Fatalf("colliding insert must be a no-op, got %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open check db: %v", err)
	}
	defer db.Close()

	var count, speed int64
	if err := db.QueryRow("SELECT COUNT(*), MAX(speed) FROM mondon_speed WHERE time = ?", int64(reading.TimestampMillis)).Scan(&count, &speed); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one record, got %d", count)
	}
	if speed != 120 {
		t.Fatalf("expected first writer to win with speed 120, got %d", speed)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Driver: DriverSQLite}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryDelay != 10*time.Millisecond {
		t.Fatalf("unexpected retry defaults %d %s", cfg.RetryAttempts, cfg.RetryDelay)
	}

	bad := Config{Driver: DriverSQLite, DSN: "x.db", Table: "speed; DROP TABLE x"}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid table name to be rejected")
	}
	if err := (&Config{Driver: "mysql", DSN: "x", Table: "t"}).Validate(); err == nil {
		t.Fatalf("expected unsupported driver to be rejected")
	}
}
