// Package sqlstore implements repositories.Store on database/sql for SQLite
// and PostgreSQL. Both dialects share the queries; placeholders are written
// as ? and rebound for PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"inkwell/app/repositories"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type dialect struct {
	name       string
	driver     string
	schema     string
	dollarArgs bool
	readOnlyTx bool
}

var (
	SQLite   = dialect{name: "sqlite", driver: "sqlite3", schema: "schema/sqlite.sql"}
	Postgres = dialect{name: "postgres", driver: "pgx", schema: "schema/postgres.sql", dollarArgs: true, readOnlyTx: true}
)

// rebind rewrites ? placeholders to $1, $2, ... when the dialect needs it.
func (d dialect) rebind(query string) string {
	if !d.dollarArgs {
		return query
	}
	var b strings.Builder
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

// Store implements repositories.Store on a SQL database.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLite opens the database file at path, creating it and its directory
// when missing, and applies the schema.
func OpenSQLite(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	dsn := path + "?_foreign_keys=on&_busy_timeout=3000"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open(SQLite.driver, dsn)
	if err != nil {
		return nil, err
	}
	// one connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	return newStore(db, SQLite)
}

// OpenPostgres connects through the pgx driver and applies the schema.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open(Postgres.driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return newStore(db, Postgres)
}

func newStore(db *sql.DB, d dialect) (*Store, error) {
	s := &Store{db: db, dialect: d}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	raw, err := schemaFS.ReadFile(s.dialect.schema)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(raw), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

// DB exposes the connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) View(ctx context.Context, fn func(repositories.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: s.dialect.readOnlyTx}, fn)
}

func (s *Store) Update(ctx context.Context, fn func(repositories.Tx) error) error {
	return s.run(ctx, nil, fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(repositories.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(&sqlTx{ctx: ctx, tx: tx, d: s.dialect}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Clear deletes every row, leaving the schema in place.
func (s *Store) Clear(ctx context.Context) error {
	return s.Update(ctx, func(tx repositories.Tx) error {
		t := tx.(*sqlTx)
		for _, table := range []string{"sessions", "bookmarks", "comments", "posts", "identities"} {
			if _, err := t.exec("DELETE FROM " + table); err != nil {
				return err
			}
		}
		return nil
	})
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
	d   dialect
}

func (t *sqlTx) Identities() repositories.IdentityRepository { return &identityRepository{t} }
func (t *sqlTx) Posts() repositories.PostRepository           { return &postRepository{t} }
func (t *sqlTx) Comments() repositories.CommentRepository     { return &commentRepository{t} }
func (t *sqlTx) Bookmarks() repositories.BookmarkRepository   { return &bookmarkRepository{t} }
func (t *sqlTx) Sessions() repositories.SessionRepository     { return &sessionRepository{t} }

func (t *sqlTx) exec(query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(t.ctx, t.d.rebind(query), args...)
	return res, translate(err)
}

func (t *sqlTx) query(query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(t.ctx, t.d.rebind(query), args...)
	return rows, translate(err)
}

func (t *sqlTx) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, t.d.rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id statement.
func (t *sqlTx) insert(query string, args ...any) (int, error) {
	var id int64
	if err := t.queryRow(query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, translate(err)
	}
	return int(id), nil
}

// affected reports ErrNotFound when a write touched no row.
func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// translate maps driver errors onto the repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", repositories.ErrDuplicate, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %v", repositories.ErrNotFound, err)
		}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505":
			return fmt.Errorf("%w: %s", repositories.ErrDuplicate, pe.Message)
		case "23503":
			return fmt.Errorf("%w: %s", repositories.ErrNotFound, pe.Message)
		}
	}
	return err
}
