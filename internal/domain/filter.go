package domain

import (
	"strings"
	"time"
)

// FilterSpec is an immutable set of optional predicates over cached entries.
// A nil or empty field imposes no constraint. Use the With methods to derive
// narrower specs.
type FilterSpec struct {
	Start       *time.Time // inclusive
	End         *time.Time // exclusive
	Category    *Category
	Action      *string
	Actor       *string
	Outcome     *Outcome
	Source      *string
	ClientIP    *string
	Environment *string
	Search      *string
}

// HasFilters reports whether any predicate is set.
func (f FilterSpec) HasFilters() bool {
	return f.Start != nil || f.End != nil || f.Category != nil || f.Action != nil ||
		f.Actor != nil || f.Outcome != nil || f.Source != nil || f.ClientIP != nil ||
		f.Environment != nil || f.Search != nil
}

// Validate checks that the time range, if set, is not inverted.
func (f FilterSpec) Validate() error {
	if f.Start != nil && f.End != nil && !f.End.After(*f.Start) {
		return ErrValidation("filter end %s must be after start %s",
			FormatAPITime(*f.End), FormatAPITime(*f.Start))
	}
	return nil
}

// WithTimeRange returns a copy constrained to [start, end). Zero times are ignored.
func (f FilterSpec) WithTimeRange(start, end time.Time) FilterSpec {
	if !start.IsZero() {
		s := start.UTC()
		f.Start = &s
	}
	if !end.IsZero() {
		e := end.UTC()
		f.End = &e
	}
	return f
}

// WithCategory returns a copy constrained to category c.
func (f FilterSpec) WithCategory(c Category) FilterSpec {
	if c != "" {
		f.Category = &c
	}
	return f
}

// WithAction returns a copy constrained to actions containing s.
func (f FilterSpec) WithAction(s string) FilterSpec {
	f.Action = optional(s)
	return f
}

// WithActor returns a copy constrained to actors containing s.
func (f FilterSpec) WithActor(s string) FilterSpec {
	f.Actor = optional(s)
	return f
}

// WithOutcome returns a copy constrained to outcome o.
func (f FilterSpec) WithOutcome(o Outcome) FilterSpec {
	if o != "" {
		f.Outcome = &o
	}
	return f
}

// WithSource returns a copy constrained to sources containing s.
func (f FilterSpec) WithSource(s string) FilterSpec {
	f.Source = optional(s)
	return f
}

// WithClientIP returns a copy constrained to client IPs containing s.
func (f FilterSpec) WithClientIP(s string) FilterSpec {
	f.ClientIP = optional(s)
	return f
}

// WithEnvironment returns a copy constrained to environments containing s.
func (f FilterSpec) WithEnvironment(s string) FilterSpec {
	f.Environment = optional(s)
	return f
}

// WithSearch returns a copy constrained to entries whose search text contains s.
func (f FilterSpec) WithSearch(s string) FilterSpec {
	f.Search = optional(s)
	return f
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
