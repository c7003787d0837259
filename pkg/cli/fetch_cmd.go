package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"unqork-logs/internal/domain"
	"unqork-logs/internal/service/fetch"
)

type fetchSummaryJSON struct {
	RunID            string              `json:"run_id"`
	Start            string              `json:"start"`
	End              string              `json:"end"`
	WindowsRequested int                 `json:"windows_requested"`
	WindowsSkipped   int                 `json:"windows_skipped"`
	WindowsFetched   int                 `json:"windows_fetched"`
	WindowsCompleted int                 `json:"windows_completed"`
	WindowsOpen      int                 `json:"windows_open"`
	WindowsFailed    int                 `json:"windows_failed"`
	FilesDownloaded  int                 `json:"files_downloaded"`
	EntriesParsed    int                 `json:"entries_parsed"`
	EntriesAdded     int                 `json:"entries_added"`
	ParseWarnings    int                 `json:"parse_warnings"`
	Canceled         bool                `json:"canceled"`
	Failures         []windowFailureJSON `json:"failures,omitempty"`
}

type windowFailureJSON struct {
	Start string `json:"window_start"`
	End   string `json:"window_end"`
	Error string `json:"error"`
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var (
		rng        rangeFlags
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch audit logs from the API into the local cache",
		Long: `Fetch audit logs for a time range. The range is split into hour windows and
only windows that are not already cached are downloaded.

Examples:
  unqork-logs fetch --start 2025-02-17 --end 2025-02-18
  unqork-logs fetch --last 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := opts.now().UTC()
			start, end, err := rng.resolve(cmd, now)
			if err != nil {
				return err
			}
			if start.IsZero() {
				return fmt.Errorf("provide --start (and optionally --end), or --last")
			}
			if end.IsZero() {
				end = now
			}
			if err := opts.cfg.ValidateCredentials(); err != nil {
				return err
			}
			windows, err := fetch.Split(start, end, domain.WindowSize)
			if err != nil {
				return err
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			jsonOut := getOutputFormat(cmd) == "json"
			var progress fetch.Progress = fetch.LogProgress{Logger: opts.logger}
			var tp *termProgress
			if !jsonOut && !noProgress {
				tp = newTermProgress(opts.stderr)
				progress = tp
				_, _ = fmt.Fprintf(opts.stderr, "Fetching audit logs %s to %s UTC (%d hour windows)\n",
					formatTime(start), formatTime(end), len(windows))
			}

			sum, fetchErr := a.Fetch(ctx, start, end, progress)
			if tp != nil {
				tp.finish()
			}
			if sum != nil {
				if err := printFetchSummary(cmd, start, end, sum); err != nil {
					return err
				}
			}
			if fetchErr != nil {
				if sum != nil && sum.Canceled {
					return fmt.Errorf("fetch interrupted; %d new entries were kept: %w", sum.EntriesAdded, fetchErr)
				}
				return fetchErr
			}
			if sum.WindowsFailed > 0 {
				return fmt.Errorf("%d of %d windows failed; run fetch again to retry them",
					sum.WindowsFailed, sum.WindowsRequested)
			}
			return nil
		},
	}

	rng.register(cmd.Flags())
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not print progress to stderr")

	return cmd
}

func printFetchSummary(cmd *cobra.Command, start, end time.Time, sum *fetch.Summary) error {
	out := fetchSummaryJSON{
		RunID:            sum.RunID,
		Start:            domain.FormatAPITime(start),
		End:              domain.FormatAPITime(end),
		WindowsRequested: sum.WindowsRequested + sum.WindowsSkipped,
		WindowsSkipped:   sum.WindowsSkipped,
		WindowsFetched:   sum.WindowsRequested,
		WindowsCompleted: sum.WindowsCompleted,
		WindowsOpen:      sum.WindowsOpen,
		WindowsFailed:    sum.WindowsFailed,
		FilesDownloaded:  sum.FilesDownloaded,
		EntriesParsed:    sum.EntriesParsed,
		EntriesAdded:     sum.EntriesAdded,
		ParseWarnings:    sum.ParseWarnings,
		Canceled:         sum.Canceled,
	}
	for _, f := range sum.Failures {
		out.Failures = append(out.Failures, windowFailureJSON{
			Start: domain.FormatAPITime(f.Window.Start),
			End:   domain.FormatAPITime(f.Window.End),
			Error: f.Err.Error(),
		})
	}
	if getOutputFormat(cmd) == "json" {
		return PrintJSON(os.Stdout, out)
	}

	rows := [][]string{
		{"windows", strconv.Itoa(out.WindowsRequested)},
		{"already cached", strconv.Itoa(out.WindowsSkipped)},
		{"completed", strconv.Itoa(out.WindowsCompleted)},
		{"open (not cached)", strconv.Itoa(out.WindowsOpen)},
		{"failed", strconv.Itoa(out.WindowsFailed)},
		{"files downloaded", strconv.Itoa(out.FilesDownloaded)},
		{"entries parsed", strconv.Itoa(out.EntriesParsed)},
		{"new entries", strconv.Itoa(out.EntriesAdded)},
		{"malformed records", strconv.Itoa(out.ParseWarnings)},
	}
	if err := PrintTable(os.Stdout, []string{"metric", "value"}, rows); err != nil {
		return err
	}
	for _, f := range out.Failures {
		_, _ = fmt.Fprintf(os.Stdout, "failed [%s, %s): %s\n", f.Start, f.End, f.Error)
	}
	return nil
}
