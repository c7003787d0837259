package cli

import (
	"bytes"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"unqork-logs/internal/domain"
)

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id-or-prefix>",
		Short: "Show one cached entry with its full record",
		Long: `Show a single cached entry. The argument is an entry ID or any prefix of one
that matches exactly one entry, as printed in the ID column of list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			entry, err := a.GetByIDPrefix(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, toEntryJSON(*entry))
			}
			return printEntryDetail(entry)
		},
	}
}

func printEntryDetail(e *domain.AuditEntry) error {
	rows := [][]string{
		{"id", e.ID},
		{"timestamp", domain.FormatAPITime(e.Timestamp)},
		{"category", orDash(string(e.Category))},
		{"action", orDash(e.Action)},
		{"event type", orDash(e.EventType)},
		{"source", orDash(e.Source)},
		{"actor", orDash(e.Actor)},
		{"actor type", orDash(e.ActorType)},
		{"outcome", orDash(string(e.Outcome))},
		{"client ip", orDash(e.ClientIP)},
		{"environment", orDash(e.Environment)},
		{"host", orDash(e.Host)},
		{"session", orDash(e.SessionID)},
		{"object type", orDash(e.ObjectType)},
	}
	if err := PrintTable(os.Stdout, []string{"field", "value"}, rows); err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, e.Raw, "", "  "); err != nil {
		// Stored records are valid JSON; print as-is if not.
		pretty.Reset()
		pretty.Write(e.Raw)
	}
	_, err := fmt.Fprintf(os.Stdout, "\nRaw record:\n%s\n", pretty.String())
	return err
}
