package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the embedded-KV backend for the ledger. It keeps the same
// substring-detectable line format as FileStore in the `line` column, so
// the opt-in read path and any export back to flat files stay compatible.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// pending schema migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %v", ErrUnavailable, path, err)
	}
	// A single writer connection sidesteps SQLITE_BUSY between the
	// existence check and the insert.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: load migrations: %v", ErrUnavailable, err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("%w: migration driver: %v", ErrUnavailable, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("%w: migration setup: %v", ErrUnavailable, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: migrate: %v", ErrUnavailable, err)
	}
	return nil
}

// LogIfNew implements Store. The substring check and insert run inside one
// immediate transaction, so concurrent callers targeting the same node
// serialize on the database write lock.
func (s *SQLiteStore) LogIfNew(ctx context.Context, node, author, ref string) (bool, error) {
	key := nodeKey(node)
	if key == "" {
		return false, fmt.Errorf("%w: empty node key for %q", ErrUnavailable, node)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM entries WHERE node = ? AND instr(line, ?) > 0`,
		key, ref,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: check node %s: %v", ErrUnavailable, key, err)
	}
	if n > 0 {
		return false, nil
	}

	line := strings.TrimSuffix(EntryLine(author, ref), "\n")
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (node, ref, line) VALUES (?, ?, ?)`,
		key, ref, line,
	); err != nil {
		return false, fmt.Errorf("%w: insert node %s: %v", ErrUnavailable, key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit node %s: %v", ErrUnavailable, key, err)
	}
	return true, nil
}

// Contains implements Store.
func (s *SQLiteStore) Contains(ctx context.Context, node, marker string) (bool, error) {
	key := nodeKey(node)
	if key == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM entries WHERE node = ? AND instr(line, ?) > 0`,
		key, marker,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: check node %s: %v", ErrUnavailable, key, err)
	}
	return n > 0, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }
