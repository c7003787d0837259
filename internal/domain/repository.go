package domain

import (
	"context"
	"time"
)

// EntryWriter persists audit entries.
type EntryWriter interface {
	// UpsertEntries stores entries in one transaction and returns how many
	// were new. Entries whose ID already exists are left untouched.
	UpsertEntries(ctx context.Context, entries []AuditEntry) (int, error)
}

// WindowLedger records which windows have been fully captured.
type WindowLedger interface {
	RecordWindow(ctx context.Context, w FetchWindow) error
	IsWindowComplete(ctx context.Context, w FetchWindow) (bool, error)
	// WindowsBetween returns ledger rows overlapping [start, end).
	WindowsBetween(ctx context.Context, start, end time.Time) ([]FetchWindow, error)
	ListWindows(ctx context.Context) ([]FetchWindow, error)
}

// WindowCommitter stores a window's entries and its ledger row atomically.
type WindowCommitter interface {
	EntryWriter
	CommitWindow(ctx context.Context, w FetchWindow, entries []AuditEntry) (int, error)
}

// EntryReader serves filtered reads over the cache.
type EntryReader interface {
	Query(ctx context.Context, filter FilterSpec, page PageRequest) ([]AuditEntry, error)
	Count(ctx context.Context, filter FilterSpec) (int64, error)
	GetByID(ctx context.Context, id string) (*AuditEntry, error)
	FindByIDPrefix(ctx context.Context, prefix string, limit int) ([]AuditEntry, error)
	Stats(ctx context.Context) (*CacheStats, error)
}

// CacheStore is the full local store: entries plus the window ledger.
type CacheStore interface {
	WindowCommitter
	WindowLedger
	EntryReader
	Clear(ctx context.Context) error
}
