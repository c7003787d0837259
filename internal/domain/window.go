package domain

import (
	"fmt"
	"time"
)

// WindowSize is the maximum time span the audit-log API accepts per request.
const WindowSize = time.Hour

// APITimeLayout is the datetime format the audit-log API requires
// (UTC with millisecond precision).
const APITimeLayout = "2006-01-02T15:04:05.000Z"

// FormatAPITime formats t in the API's datetime layout.
func FormatAPITime(t time.Time) string {
	return t.UTC().Format(APITimeLayout)
}

// FetchWindow is a half-open interval [Start, End) of audit time. Once
// recorded in the ledger it means every file the API returned for exactly
// this interval was downloaded, parsed and stored.
type FetchWindow struct {
	Start      time.Time
	End        time.Time
	FetchedAt  time.Time
	FileCount  int
	EntryCount int
	RunID      string
}

// NewFetchWindow returns a window over [start, end) normalised to UTC
// millisecond precision, which is the precision the ledger stores.
func NewFetchWindow(start, end time.Time) FetchWindow {
	return FetchWindow{
		Start: start.UTC().Truncate(time.Millisecond),
		End:   end.UTC().Truncate(time.Millisecond),
	}
}

// Key returns the identity of the window's interval, ignoring metadata.
func (w FetchWindow) Key() WindowKey {
	return WindowKey{Start: FormatAPITime(w.Start), End: FormatAPITime(w.End)}
}

// SameInterval reports whether w and o cover exactly the same interval.
func (w FetchWindow) SameInterval(o FetchWindow) bool {
	return w.Key() == o.Key()
}

// Duration returns End - Start.
func (w FetchWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w FetchWindow) String() string {
	return fmt.Sprintf("[%s, %s)", FormatAPITime(w.Start), FormatAPITime(w.End))
}

// WindowKey identifies a window interval by its formatted bounds.
type WindowKey struct {
	Start string
	End   string
}
