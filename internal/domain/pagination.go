package domain

// DefaultMaxResults is the default page size when none is specified.
const DefaultMaxResults = 100

// MaxMaxResults is the maximum allowed page size.
const MaxMaxResults = 10000

// PageRequest holds limit/offset pagination parameters for list operations.
type PageRequest struct {
	MaxResults int
	Offset     int
}

// Limit returns the effective page size, clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	if p.MaxResults <= 0 {
		return DefaultMaxResults
	}
	if p.MaxResults > MaxMaxResults {
		return MaxMaxResults
	}
	return p.MaxResults
}

// EffectiveOffset returns the offset, treating negative values as 0.
func (p PageRequest) EffectiveOffset() int {
	if p.Offset < 0 {
		return 0
	}
	return p.Offset
}

// NextOffset returns the offset of the following page, or -1 when the
// current page is the last one.
func NextOffset(offset, limit int, total int64) int {
	next := offset + limit
	if int64(next) >= total {
		return -1
	}
	return next
}
