package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"unqork-logs/internal/domain"
)

type entryPageJSON struct {
	Entries    []entryJSON `json:"entries"`
	Total      int64       `json:"total"`
	Offset     int         `json:"offset"`
	NextOffset int         `json:"next_offset"`
}

// filterFlags are the entry predicates accepted by list.
type filterFlags struct {
	rng         rangeFlags
	category    string
	action      string
	actor       string
	outcome     string
	source      string
	ip          string
	environment string
	search      string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	f.rng.register(fs)
	fs.StringVarP(&f.category, "category", "c", "", "Exact category (user-access, access-management, configuration, data-access)")
	fs.StringVarP(&f.action, "action", "a", "", "Action contains")
	fs.StringVar(&f.actor, "actor", "", "Actor ID or email contains")
	fs.StringVar(&f.outcome, "outcome", "", "Exact outcome (success, failure)")
	fs.StringVar(&f.source, "source", "", "Source contains")
	fs.StringVar(&f.ip, "ip", "", "Client IP contains")
	fs.StringVar(&f.environment, "environment", "", "Environment contains")
	fs.StringVarP(&f.search, "search", "q", "", "Free-text search across all fields")
}

func (f *filterFlags) spec(cmd *cobra.Command, opts *rootOptions) (domain.FilterSpec, error) {
	start, end, err := f.rng.resolve(cmd, opts.now())
	if err != nil {
		return domain.FilterSpec{}, err
	}
	spec := domain.FilterSpec{}.
		WithTimeRange(start, end).
		WithCategory(domain.Category(f.category)).
		WithAction(f.action).
		WithActor(f.actor).
		WithOutcome(domain.Outcome(f.outcome)).
		WithSource(f.source).
		WithClientIP(f.ip).
		WithEnvironment(f.environment).
		WithSearch(f.search)
	if spec.Category != nil && !spec.Category.Known() {
		opts.logger.Warn("unknown category, matching it literally", "category", f.category)
	}
	return spec, nil
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		filters filterFlags
		limit   int
		offset  int
		raw     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached audit log entries, newest first",
		Long: `List cached entries matching the given filters. Only the local cache is read;
run fetch first to populate it.

Examples:
  unqork-logs list --last 24h --category user-access
  unqork-logs list --actor alice@example.com --outcome failure -n 20
  unqork-logs list -q deleteModule --raw`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := filters.spec(cmd, opts)
			if err != nil {
				return err
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			page, err := a.Query(cmd.Context(), spec, domain.PageRequest{MaxResults: limit, Offset: offset})
			if err != nil {
				return err
			}

			if raw {
				for _, e := range page.Entries {
					if _, err := fmt.Fprintln(os.Stdout, string(e.Raw)); err != nil {
						return err
					}
				}
				return nil
			}

			if getOutputFormat(cmd) == "json" {
				out := entryPageJSON{
					Entries:    make([]entryJSON, 0, len(page.Entries)),
					Total:      page.Total,
					Offset:     page.Offset,
					NextOffset: page.NextOffset,
				}
				for _, e := range page.Entries {
					out.Entries = append(out.Entries, toEntryJSON(e))
				}
				return PrintJSON(os.Stdout, out)
			}

			if len(page.Entries) == 0 {
				_, _ = fmt.Fprintln(opts.stderr, "No entries found. Run 'unqork-logs fetch' to populate the cache.")
				return nil
			}
			rows := make([][]string, 0, len(page.Entries))
			for _, e := range page.Entries {
				rows = append(rows, []string{
					formatTime(e.Timestamp),
					shortID(e.ID),
					orDash(string(e.Category)),
					truncate(e.Action, 40),
					truncate(orDash(e.Actor), 32),
					orDash(string(e.Outcome)),
					orDash(e.ClientIP),
				})
			}
			if err := PrintTable(os.Stdout, []string{"timestamp", "id", "category", "action", "actor", "outcome", "ip"}, rows); err != nil {
				return err
			}
			footer := fmt.Sprintf("Showing %d-%d of %d entries", page.Offset+1, page.Offset+len(page.Entries), page.Total)
			if page.NextOffset >= 0 {
				footer += fmt.Sprintf(" (next page: --offset %d)", page.NextOffset)
			}
			_, _ = fmt.Fprintln(opts.stderr, footer)
			return nil
		},
	}

	filters.register(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", domain.DefaultMaxResults, "Maximum entries to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of entries to skip")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print each entry's original JSON record, one per line")

	return cmd
}
