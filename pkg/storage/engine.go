// Package storage is Cotoami's persistence engine: a single-writer,
// many-reader SQLite database fronted by composable Operation values,
// in the style of the original implementation's Operation/Context
// split between a plain read connection and a transactional write
// connection.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "modernc.org/sqlite"

	"github.com/cotoami/cotoami-node/pkg/log"
	"github.com/cotoami/cotoami-node/pkg/metrics"
)

// ReadPoolSize bounds the number of concurrent read snapshots the
// engine keeps open. SQLite's WAL mode lets readers run alongside the
// single writer without blocking, so this is purely a resource cap.
const ReadPoolSize = 8

// Engine owns the database's write and read connection pools. There is
// exactly one write connection, guarded by *sql.DB's own pooling (set
// to a single connection so every write serialises); reads go through
// a separate pool of up to ReadPoolSize connections, each its own WAL
// snapshot.
type Engine struct {
	write     *sql.DB
	read      *sql.DB
	goquWrite *goqu.Database
}

// Open connects to the SQLite database at path, applies pragmas, runs
// pending migrations, and returns a ready Engine. path may be
// "file::memory:?cache=shared" for tests.
func Open(ctx context.Context, path string) (*Engine, error) {
	write, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open write connection: %w", err)
	}
	if err := configureConn(ctx, write); err != nil {
		write.Close()
		return nil, err
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	read, err := sql.Open("sqlite", path)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	if err := configureConn(ctx, read); err != nil {
		write.Close()
		read.Close()
		return nil, err
	}
	read.SetMaxOpenConns(ReadPoolSize)

	e := &Engine{
		write:     write,
		read:      read,
		goquWrite: goqu.New("sqlite3", write),
	}

	if err := runMigrations(ctx, write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.WithComponent("storage").Info().Str("path", path).Msg("storage engine ready")
	return e, nil
}

func configureConn(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// Close releases both connection pools.
func (e *Engine) Close() error {
	readErr := e.read.Close()
	writeErr := e.write.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

// Dialect returns the goqu SQL builder bound to the sqlite3 dialect,
// for building query strings independent of which connection runs them.
func (e *Engine) Dialect() *goqu.DialectWrapper {
	d := goqu.Dialect("sqlite3")
	return &d
}
