package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Audric-Dune/mondon-server/internal/domain"
	"github.com/Audric-Dune/mondon-server/internal/ports"
)

// Dialect holds the SQL and error classification of one database engine.
type Dialect struct {
	Name     string
	Driver   string
	create   string
	insert   string
	classify func(error) errClass
}

var SQLite = Dialect{
	Name:     DriverSQLite,
	Driver:   "sqlite",
	create:   "CREATE TABLE IF NOT EXISTS %s (time INTEGER PRIMARY KEY, speed INTEGER NOT NULL)",
	insert:   "INSERT INTO %s (time, speed) VALUES (?, ?)",
	classify: classifySQLite,
}

var Postgres = Dialect{
	Name:     DriverPostgres,
	Driver:   "postgres",
	create:   "CREATE TABLE IF NOT EXISTS %s (time BIGINT PRIMARY KEY, speed BIGINT NOT NULL)",
	insert:   "INSERT INTO %s (time, speed) VALUES ($1, $2)",
	classify: classifyPostgres,
}

func (d Dialect) CreateTableSQL(table string) string { return fmt.Sprintf(d.create, table) }

func (d Dialect) InsertSQL(table string) string { return fmt.Sprintf(d.insert, table) }

// DBFactory returns a fresh *sql.DB each time the store (re)connects.
type DBFactory func(ctx context.Context) (*sql.DB, error)

// OpenDB is the DBFactory backed by database/sql.
func OpenDB(d Dialect, dsn string) DBFactory {
	return func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open(d.Driver, dsn)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}
}

type sqlBackend struct {
	db        *sql.DB
	insertSQL string
}

func (b *sqlBackend) insert(ctx context.Context, r domain.Reading) error {
	_, err := b.db.ExecContext(ctx, b.insertSQL, int64(r.TimestampMillis), int64(r.Speed))
	return err
}

func (b *sqlBackend) close() error { return b.db.Close() }

// NewSQLStore opens a store on a relational database. The handle is limited
// to a single connection and the table is created if missing.
func NewSQLStore(ctx context.Context, d Dialect, cfg Config, factory DBFactory, obs ports.Observability) (*Store, error) {
	cfg.ApplyDefaults()
	createSQL := d.CreateTableSQL(cfg.Table)
	insertSQL := d.InsertSQL(cfg.Table)

	connect := func(ctx context.Context) (backend, error) {
		db, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, createSQL); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create table %s: %w", cfg.Table, err)
		}
		return &sqlBackend{db: db, insertSQL: insertSQL}, nil
	}
	return newStore(ctx, d.Name, connect, d.classify, cfg, obs)
}
