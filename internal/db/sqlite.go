// Package db opens the SQLite cache database and applies its migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// CacheFileName is the name of the SQLite file inside the data directory.
const CacheFileName = "cache.db"

// SQLite DSN parameters.
const (
	defaultBusyTimeout = "5000" // 5 seconds
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
	defaultReadConns   = 4
)

// Mode selects how a pool is configured.
type Mode string

// Pool modes.
const (
	// ModeWrite is a single-connection pool that takes the write lock at
	// BEGIN, so every write transaction is serialized.
	ModeWrite Mode = "write"
	// ModeRead is a multi-connection pool for queries. WAL lets readers run
	// alongside the writer and only ever see committed transactions.
	ModeRead Mode = "read"
)

// OpenSQLite opens a *sql.DB pool for the SQLite file at path.
// maxOpen only applies to ModeRead (0 means the default of 4).
func OpenSQLite(path string, mode Mode, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	switch mode {
	case ModeWrite:
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case ModeRead:
		if maxOpen <= 0 {
			maxOpen = defaultReadConns
		}
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}

	return db, nil
}

// OpenSQLitePair opens a write pool and a read pool over the same file.
// The write pool is opened first so the file exists and is in WAL mode
// before any reader connects.
func OpenSQLitePair(path string, readMaxOpen int) (writeDB, readDB *sql.DB, err error) {
	writeDB, err = OpenSQLite(path, ModeWrite, 0)
	if err != nil {
		return nil, nil, err
	}

	readDB, err = OpenSQLite(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, nil, err
	}

	return writeDB, readDB, nil
}

// OpenCache creates dataDir if needed, opens the cache database inside it and
// brings its schema up to date.
func OpenCache(dataDir string) (writeDB, readDB *sql.DB, path string, err error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, nil, "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	path = filepath.Join(dataDir, CacheFileName)

	writeDB, readDB, err = OpenSQLitePair(path, defaultReadConns)
	if err != nil {
		return nil, nil, "", err
	}
	if err := RunMigrations(writeDB); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, nil, "", err
	}
	return writeDB, readDB, path, nil
}

func buildDSN(path string, mode Mode) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")

	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}

	return path + "?" + params.Encode()
}
