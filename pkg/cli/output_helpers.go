package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"unqork-logs/internal/domain"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// PrintTable writes rows under upper-cased column headers, aligned with tabs.
func PrintTable(w io.Writer, columns []string, rows [][]string) error {
	if len(columns) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = strings.ToUpper(c)
	}
	if _, err := fmt.Fprintln(tw, strings.Join(header, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// displayTime is the timestamp layout used in tables.
const displayTime = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(displayTime)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// idColumnWidth is the number of leading ID characters shown in listings.
const idColumnWidth = 12

// shortID returns a plain prefix of id that show accepts as typed.
func shortID(id string) string {
	r := []rune(id)
	if len(r) <= idColumnWidth {
		return id
	}
	return string(r[:idColumnWidth])
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// entryJSON is the machine-readable form of a cached entry.
type entryJSON struct {
	ID          string          `json:"id"`
	Timestamp   string          `json:"timestamp"`
	Category    string          `json:"category"`
	Action      string          `json:"action"`
	EventType   string          `json:"event_type,omitempty"`
	Source      string          `json:"source,omitempty"`
	Actor       string          `json:"actor,omitempty"`
	ActorType   string          `json:"actor_type,omitempty"`
	Outcome     string          `json:"outcome,omitempty"`
	ClientIP    string          `json:"client_ip,omitempty"`
	Environment string          `json:"environment,omitempty"`
	Host        string          `json:"host,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	ObjectType  string          `json:"object_type,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

func toEntryJSON(e domain.AuditEntry) entryJSON {
	return entryJSON{
		ID:          e.ID,
		Timestamp:   domain.FormatAPITime(e.Timestamp),
		Category:    string(e.Category),
		Action:      e.Action,
		EventType:   e.EventType,
		Source:      e.Source,
		Actor:       e.Actor,
		ActorType:   e.ActorType,
		Outcome:     string(e.Outcome),
		ClientIP:    e.ClientIP,
		Environment: e.Environment,
		Host:        e.Host,
		SessionID:   e.SessionID,
		ObjectType:  e.ObjectType,
		Raw:         json.RawMessage(e.Raw),
	}
}

// windowJSON is the machine-readable form of a ledger row.
type windowJSON struct {
	Start      string `json:"window_start"`
	End        string `json:"window_end"`
	FetchedAt  string `json:"fetched_at,omitempty"`
	FileCount  int    `json:"file_count"`
	EntryCount int    `json:"entry_count"`
	RunID      string `json:"run_id,omitempty"`
}

func toWindowJSON(w domain.FetchWindow) windowJSON {
	out := windowJSON{
		Start:      domain.FormatAPITime(w.Start),
		End:        domain.FormatAPITime(w.End),
		FileCount:  w.FileCount,
		EntryCount: w.EntryCount,
		RunID:      w.RunID,
	}
	if !w.FetchedAt.IsZero() {
		out.FetchedAt = w.FetchedAt.UTC().Format(time.RFC3339)
	}
	return out
}
