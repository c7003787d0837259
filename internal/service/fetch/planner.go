// Package fetch plans and runs incremental downloads of audit-log windows.
package fetch

import (
	"context"
	"fmt"
	"time"

	"unqork-logs/internal/domain"
)

// Split partitions [start, end) into windows of at most size, aligned to
// multiples of size on the UTC clock. The first window runs from start to
// the next boundary and the last is cut at end. Windows are returned in
// chronological order and their union is exactly [start, end).
func Split(start, end time.Time, size time.Duration) ([]domain.FetchWindow, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %s", size)
	}
	r := domain.NewFetchWindow(start, end)
	if !r.End.After(r.Start) {
		return nil, &domain.InvalidRangeError{Start: r.Start, End: r.End}
	}

	var windows []domain.FetchWindow
	for cur := r.Start; cur.Before(r.End); {
		next := cur.Truncate(size).Add(size)
		if next.After(r.End) {
			next = r.End
		}
		windows = append(windows, domain.NewFetchWindow(cur, next))
		cur = next
	}
	return windows, nil
}

// Planner decides which windows of a range still have to be fetched.
type Planner struct {
	ledger domain.WindowLedger
	size   time.Duration
}

// NewPlanner creates a Planner using the default window size.
func NewPlanner(ledger domain.WindowLedger) *Planner {
	return &Planner{ledger: ledger, size: domain.WindowSize}
}

// Plan returns the windows of [start, end) that are not in the ledger with
// exactly the same bounds, oldest first. An inverted or empty range fails
// with *domain.InvalidRangeError before the ledger is consulted.
func (p *Planner) Plan(ctx context.Context, start, end time.Time) ([]domain.FetchWindow, error) {
	windows, err := Split(start, end, p.size)
	if err != nil {
		return nil, err
	}

	done, err := p.ledger.WindowsBetween(ctx, windows[0].Start, windows[len(windows)-1].End)
	if err != nil {
		return nil, fmt.Errorf("plan: read ledger: %w", err)
	}
	recorded := make(map[domain.WindowKey]struct{}, len(done))
	for _, w := range done {
		recorded[w.Key()] = struct{}{}
	}

	pending := windows[:0]
	for _, w := range windows {
		if _, ok := recorded[w.Key()]; !ok {
			pending = append(pending, w)
		}
	}
	return pending, nil
}
