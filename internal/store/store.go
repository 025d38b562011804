package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Driver selects the database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ErrTxAborted is returned by InTx when a nested scope failed but the
// outermost function swallowed the error.
var ErrTxAborted = errors.New("transaction aborted by a nested scope")

type Store struct {
	db     *sql.DB
	driver Driver
	now    func() time.Time
}

// New opens a SQLite database at dbPath and migrates it.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), DriverSQLite, dbPath)
}

// Open opens a database for the given driver and brings its schema up to date.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite"
		if dsn == "" {
			dsn = "suppcompanion.db"
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx"
		if dsn == "" {
			dsn = "postgres://localhost:5432/suppcompanion?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Driver reports the backend in use.
func (s *Store) Driver() Driver {
	return s.driver
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txState struct {
	tx         *sql.Tx
	failed     bool
	onRollback []func()
}

type txCtxKey struct{}

func txFromContext(ctx context.Context) *txState {
	st, _ := ctx.Value(txCtxKey{}).(*txState)
	return st
}

// q returns the transaction bound to ctx, or the database handle.
func (s *Store) q(ctx context.Context) querier {
	if st := txFromContext(ctx); st != nil {
		return st.tx
	}
	return s.db
}

// InTx runs fn inside a delegated transaction. A call made while another
// InTx is active on ctx joins that transaction instead of starting one; only
// the outermost scope commits. A failing inner scope marks the whole
// transaction for rollback even if an outer caller ignores the error.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if st := txFromContext(ctx); st != nil {
		if err := fn(ctx); err != nil {
			st.failed = true
			return err
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	st := &txState{tx: tx}
	defer func() {
		if p := recover(); p != nil {
			st.rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txCtxKey{}, st)); err != nil {
		st.rollback()
		return err
	}
	if st.failed {
		st.rollback()
		return ErrTxAborted
	}
	if err := tx.Commit(); err != nil {
		st.runRollbackHooks()
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (st *txState) rollback() {
	if err := st.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.Error("rollback failed", "error", err)
	}
	st.runRollbackHooks()
}

func (st *txState) runRollbackHooks() {
	for i := len(st.onRollback) - 1; i >= 0; i-- {
		st.onRollback[i]()
	}
	st.onRollback = nil
}

// OnRollback registers f to run if the transaction active on ctx rolls back.
// Outside a transaction f is never called.
func (s *Store) OnRollback(ctx context.Context, f func()) {
	if st := txFromContext(ctx); st != nil {
		st.onRollback = append(st.onRollback, f)
	}
}

// insert runs an INSERT and returns the generated id.
func (s *Store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := s.q(ctx).QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id)
	return id, err
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.q(ctx).QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) unixNow() int64 {
	return s.now().Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
