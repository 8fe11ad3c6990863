// Package store persists market data and run artifacts in SQLite: the
// ohlc/funding tables the backfill tool fills and the data sources
// read, and the runs/trades_fills/equity_curve tables the backtester
// records into.
//
// One file gets one handle. Open returns the existing *Store when the
// path is already open, and refuses to reopen a file with different
// options; auxiliary writers share the engine's connection instead of
// racing it with their own.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"

	"perpsim/internal/core"
	apperrors "perpsim/pkg/errors"
	"perpsim/pkg/retry"
)

// Options fixes how a store file is opened. Every Open of the same
// path must agree on them.
type Options struct {
	ReadOnly bool
}

// Store wraps the shared SQLite handle for one database file.
type Store struct {
	db   *sql.DB
	path string
	opts Options
	log  core.ILogger

	key  string
	refs int
}

var (
	regMu  sync.Mutex
	opened = make(map[string]*Store)
)

// Open returns the store for path, creating the file and schema on
// first writable open. A path that is already open with different
// options yields ErrConfigConflict.
func Open(path string, opts Options, logger core.ILogger) (*Store, error) {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}

	regMu.Lock()
	defer regMu.Unlock()

	if st, ok := opened[key]; ok {
		if st.opts != opts {
			return nil, fmt.Errorf("%w: %s is already open read_only=%v", apperrors.ErrConfigConflict, path, st.opts.ReadOnly)
		}
		st.refs++
		return st, nil
	}

	st, err := openFile(path, opts, logger)
	if err != nil {
		return nil, err
	}
	st.key = key
	st.refs = 1
	opened[key] = st
	return st, nil
}

func openFile(path string, opts Options, logger core.ILogger) (*Store, error) {
	if opts.ReadOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open store read-only: %w", err)
		}
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_busy_timeout=5000"
	if opts.ReadOnly {
		dsn += "&mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	st := &Store{db: db, path: path, opts: opts, log: core.OrDefault(logger).WithField("store", path)}
	if !opts.ReadOnly {
		// WAL keeps readers open while a run is recording.
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if err := st.ensureSchema(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return st, nil
}

// Close releases one reference; the handle closes when the last user
// is done.
func (s *Store) Close() error {
	regMu.Lock()
	defer regMu.Unlock()

	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(opened, s.key)
	return s.db.Close()
}

// DB exposes the shared handle for auxiliary queries. Callers must not
// close it.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the file this store is bound to.
func (s *Store) Path() string { return s.path }

// withRetry runs fn, retrying the transient lock contention a second
// writer on the same file produces.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, retry.DefaultPolicy, isBusy, fn)
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
