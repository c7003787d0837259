// Package query serves filtered reads over the local audit-log cache.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"unqork-logs/internal/domain"
)

// maxPrefixCandidates bounds how many matches an ambiguous prefix reports.
const maxPrefixCandidates = 10

// DefaultBatchSize is the page size Each uses when none is given.
const DefaultBatchSize = 500

// Store is the read side of the cache plus the maintenance operations
// exposed to consumers.
type Store interface {
	domain.EntryReader
	ListWindows(ctx context.Context) ([]domain.FetchWindow, error)
	Clear(ctx context.Context) error
}

// Service answers filtered reads over the local cache. It never touches
// the network.
type Service struct {
	store Store
}

// NewService creates a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Query is a resolved, lazily evaluated filter over cached entries.
type Query struct {
	store  domain.EntryReader
	filter domain.FilterSpec
	err    error
}

// Resolve binds filter to the cache. An invalid filter surfaces as an error
// from the first evaluation.
func (s *Service) Resolve(filter domain.FilterSpec) *Query {
	return &Query{store: s.store, filter: filter, err: filter.Validate()}
}

// Filter returns the filter the query was resolved with.
func (q *Query) Filter() domain.FilterSpec { return q.filter }

// List returns one page of matching entries, newest first.
func (q *Query) List(ctx context.Context, page domain.PageRequest) (*domain.EntryPage, error) {
	if q.err != nil {
		return nil, q.err
	}
	total, err := q.store.Count(ctx, q.filter)
	if err != nil {
		return nil, err
	}
	entries, err := q.store.Query(ctx, q.filter, page)
	if err != nil {
		return nil, err
	}
	offset := page.EffectiveOffset()
	return &domain.EntryPage{
		Entries:    entries,
		Total:      total,
		Offset:     offset,
		NextOffset: domain.NextOffset(offset, page.Limit(), total),
	}, nil
}

// Count returns the number of matching entries.
func (q *Query) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.store.Count(ctx, q.filter)
}

// Each calls fn for every matching entry, newest first, reading batch
// entries at a time. It stops at the first error fn returns. Entries added
// while iterating may shift pages.
func (q *Query) Each(ctx context.Context, batch int, fn func(domain.AuditEntry) error) error {
	if q.err != nil {
		return q.err
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	for offset := 0; ; offset += batch {
		entries, err := q.store.Query(ctx, q.filter, domain.PageRequest{MaxResults: batch, Offset: offset})
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
		}
		if len(entries) < batch {
			return nil
		}
	}
}

// GetByIDPrefix returns the entry whose ID equals prefix or, failing that,
// the single entry whose ID starts with it. No match is a
// *domain.NotFoundError and several are a *domain.AmbiguousIDError.
// An exact hit wins even when the ID is also a prefix of other stored IDs,
// so a full ID always resolves.
func (s *Service) GetByIDPrefix(ctx context.Context, prefix string) (*domain.AuditEntry, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, domain.ErrValidation("entry ID must not be empty")
	}

	entry, err := s.store.GetByID(ctx, prefix)
	if err == nil {
		return entry, nil
	}
	var notFound *domain.NotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	matches, err := s.store.FindByIDPrefix(ctx, prefix, maxPrefixCandidates)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, domain.ErrNotFound("no entry with ID or prefix %q", prefix)
	case 1:
		return &matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return nil, &domain.AmbiguousIDError{Prefix: prefix, Candidates: ids}
}

// Stats summarises the cache.
func (s *Service) Stats(ctx context.Context) (*domain.CacheStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	return stats, nil
}

// ListWindows returns the ledger, oldest first.
func (s *Service) ListWindows(ctx context.Context) ([]domain.FetchWindow, error) {
	return s.store.ListWindows(ctx)
}

// Clear removes every cached entry and ledger row.
func (s *Service) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}
