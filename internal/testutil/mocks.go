// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"time"

	"unqork-logs/internal/domain"
)

// === Cache Store Mock ===

// MockCacheStore implements domain.CacheStore for testing. Writes that have
// no Fn set are collected so tests can assert on them.
type MockCacheStore struct {
	UpsertEntriesFn    func(ctx context.Context, entries []domain.AuditEntry) (int, error)
	CommitWindowFn     func(ctx context.Context, w domain.FetchWindow, entries []domain.AuditEntry) (int, error)
	RecordWindowFn     func(ctx context.Context, w domain.FetchWindow) error
	IsWindowCompleteFn func(ctx context.Context, w domain.FetchWindow) (bool, error)
	WindowsBetweenFn   func(ctx context.Context, start, end time.Time) ([]domain.FetchWindow, error)
	ListWindowsFn      func(ctx context.Context) ([]domain.FetchWindow, error)
	QueryFn            func(ctx context.Context, filter domain.FilterSpec, page domain.PageRequest) ([]domain.AuditEntry, error)
	CountFn            func(ctx context.Context, filter domain.FilterSpec) (int64, error)
	GetByIDFn          func(ctx context.Context, id string) (*domain.AuditEntry, error)
	FindByIDPrefixFn   func(ctx context.Context, prefix string, limit int) ([]domain.AuditEntry, error)
	StatsFn            func(ctx context.Context) (*domain.CacheStats, error)
	ClearFn            func(ctx context.Context) error

	mu      sync.Mutex
	Entries []domain.AuditEntry  // collected entries for assertions
	Windows []domain.FetchWindow // collected ledger rows for assertions
}

// UpsertEntries implements the interface method for testing.
func (m *MockCacheStore) UpsertEntries(ctx context.Context, entries []domain.AuditEntry) (int, error) {
	if m.UpsertEntriesFn != nil {
		return m.UpsertEntriesFn(ctx, entries)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entries...)
	return len(entries), nil
}

// CommitWindow implements the interface method for testing.
func (m *MockCacheStore) CommitWindow(ctx context.Context, w domain.FetchWindow, entries []domain.AuditEntry) (int, error) {
	if m.CommitWindowFn != nil {
		return m.CommitWindowFn(ctx, w, entries)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Entries = append(m.Entries, entries...)
	m.Windows = append(m.Windows, w)
	return len(entries), nil
}

// RecordWindow implements the interface method for testing.
func (m *MockCacheStore) RecordWindow(ctx context.Context, w domain.FetchWindow) error {
	if m.RecordWindowFn != nil {
		return m.RecordWindowFn(ctx, w)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Windows = append(m.Windows, w)
	return nil
}

// IsWindowComplete implements the interface method for testing.
func (m *MockCacheStore) IsWindowComplete(ctx context.Context, w domain.FetchWindow) (bool, error) {
	if m.IsWindowCompleteFn != nil {
		return m.IsWindowCompleteFn(ctx, w)
	}
	panic("unexpected call to MockCacheStore.IsWindowComplete")
}

// WindowsBetween implements the interface method for testing.
func (m *MockCacheStore) WindowsBetween(ctx context.Context, start, end time.Time) ([]domain.FetchWindow, error) {
	if m.WindowsBetweenFn != nil {
		return m.WindowsBetweenFn(ctx, start, end)
	}
	panic("unexpected call to MockCacheStore.WindowsBetween")
}

// ListWindows implements the interface method for testing.
func (m *MockCacheStore) ListWindows(ctx context.Context) ([]domain.FetchWindow, error) {
	if m.ListWindowsFn != nil {
		return m.ListWindowsFn(ctx)
	}
	panic("unexpected call to MockCacheStore.ListWindows")
}

// Query implements the interface method for testing.
func (m *MockCacheStore) Query(ctx context.Context, filter domain.FilterSpec, page domain.PageRequest) ([]domain.AuditEntry, error) {
	if m.QueryFn != nil {
		return m.QueryFn(ctx, filter, page)
	}
	panic("unexpected call to MockCacheStore.Query")
}

// Count implements the interface method for testing.
func (m *MockCacheStore) Count(ctx context.Context, filter domain.FilterSpec) (int64, error) {
	if m.CountFn != nil {
		return m.CountFn(ctx, filter)
	}
	panic("unexpected call to MockCacheStore.Count")
}

// GetByID implements the interface method for testing.
func (m *MockCacheStore) GetByID(ctx context.Context, id string) (*domain.AuditEntry, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockCacheStore.GetByID")
}

// FindByIDPrefix implements the interface method for testing.
func (m *MockCacheStore) FindByIDPrefix(ctx context.Context, prefix string, limit int) ([]domain.AuditEntry, error) {
	if m.FindByIDPrefixFn != nil {
		return m.FindByIDPrefixFn(ctx, prefix, limit)
	}
	panic("unexpected call to MockCacheStore.FindByIDPrefix")
}

// Stats implements the interface method for testing.
func (m *MockCacheStore) Stats(ctx context.Context) (*domain.CacheStats, error) {
	if m.StatsFn != nil {
		return m.StatsFn(ctx)
	}
	panic("unexpected call to MockCacheStore.Stats")
}

// Clear implements the interface method for testing.
func (m *MockCacheStore) Clear(ctx context.Context) error {
	if m.ClearFn != nil {
		return m.ClearFn(ctx)
	}
	panic("unexpected call to MockCacheStore.Clear")
}

// EntryCount returns the number of collected entries.
func (m *MockCacheStore) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Entries)
}

// WindowCount returns the number of collected ledger rows.
func (m *MockCacheStore) WindowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Windows)
}

var _ domain.CacheStore = (*MockCacheStore)(nil)

// === Log API Mock ===

// MockLogAPI implements the remote audit-log API for testing.
type MockLogAPI struct {
	ListLogLocationsFn func(ctx context.Context, w domain.FetchWindow) ([]string, error)
	DownloadFn         func(ctx context.Context, fileURL string) ([]byte, error)
}

// ListLogLocations implements the interface method for testing.
func (m *MockLogAPI) ListLogLocations(ctx context.Context, w domain.FetchWindow) ([]string, error) {
	if m.ListLogLocationsFn != nil {
		return m.ListLogLocationsFn(ctx, w)
	}
	panic("unexpected call to MockLogAPI.ListLogLocations")
}

// Download implements the interface method for testing.
func (m *MockLogAPI) Download(ctx context.Context, fileURL string) ([]byte, error) {
	if m.DownloadFn != nil {
		return m.DownloadFn(ctx, fileURL)
	}
	panic("unexpected call to MockLogAPI.Download")
}
