package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Category is the audit category reported by the API.
type Category string

// Known audit categories.
const (
	CategoryUserAccess       Category = "user-access"
	CategoryAccessManagement Category = "access-management"
	CategoryConfiguration    Category = "configuration"
	CategoryDataAccess       Category = "data-access"
)

// Known reports whether c is one of the documented categories.
func (c Category) Known() bool {
	switch c {
	case CategoryUserAccess, CategoryAccessManagement, CategoryConfiguration, CategoryDataAccess:
		return true
	}
	return false
}

// Outcome is the result of an audited action.
type Outcome string

// Known outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AuditEntry is a single immutable audit log record.
//
// Raw holds the record exactly as it was received so that it can be
// re-exported without loss. The remaining fields are extracted from Raw for
// indexing and filtering.
type AuditEntry struct {
	ID          string
	Timestamp   time.Time
	Category    Category
	Action      string
	EventType   string
	Source      string
	Actor       string
	ActorType   string
	Outcome     Outcome
	ClientIP    string
	Environment string
	Host        string
	SessionID   string
	ObjectType  string
	Raw         json.RawMessage
	SearchText  string
	WindowStart time.Time
}

// BuildSearchText derives the lowercase free-text blob used by text search.
func (e *AuditEntry) BuildSearchText() string {
	parts := []string{
		e.ID, string(e.Category), e.Action, e.EventType, e.Source, e.Actor,
		string(e.Outcome), e.ClientIP, e.Environment, e.Host, e.ObjectType,
		string(e.Raw),
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// EntryPage is one page of a filtered entry listing.
type EntryPage struct {
	Entries    []AuditEntry
	Total      int64
	Offset     int
	NextOffset int // -1 when there are no more pages
}

// CacheStats summarises the contents of the local cache.
type CacheStats struct {
	EntryCount  int64
	WindowCount int64
	Earliest    *time.Time
	Latest      *time.Time
	Categories  map[Category]int64
	DBSizeBytes int64
}
