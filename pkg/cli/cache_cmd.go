package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"unqork-logs/internal/domain"
)

type cacheStatsJSON struct {
	Path        string           `json:"path"`
	EntryCount  int64            `json:"entry_count"`
	WindowCount int64            `json:"window_count"`
	Earliest    string           `json:"earliest,omitempty"`
	Latest      string           `json:"latest,omitempty"`
	Categories  map[string]int64 `json:"categories"`
	DBSizeBytes int64            `json:"db_size_bytes"`
}

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the local cache",
	}

	cmd.AddCommand(newCacheStatsCmd(opts))
	cmd.AddCommand(newCacheWindowsCmd(opts))
	cmd.AddCommand(newCacheClearCmd(opts))

	return cmd
}

func newCacheStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Aliases: []string{"info"},
		Short:   "Show cache size, time span and per-category counts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			stats, err := a.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cacheStatsJSON{
				Path:        opts.cfg.CachePath(),
				EntryCount:  stats.EntryCount,
				WindowCount: stats.WindowCount,
				Categories:  make(map[string]int64, len(stats.Categories)),
				DBSizeBytes: stats.DBSizeBytes,
			}
			if stats.Earliest != nil {
				out.Earliest = domain.FormatAPITime(*stats.Earliest)
			}
			if stats.Latest != nil {
				out.Latest = domain.FormatAPITime(*stats.Latest)
			}
			for c, n := range stats.Categories {
				out.Categories[string(c)] = n
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, out)
			}

			rows := [][]string{
				{"path", out.Path},
				{"entries", strconv.FormatInt(stats.EntryCount, 10)},
				{"windows", strconv.FormatInt(stats.WindowCount, 10)},
				{"earliest", formatOptionalTime(stats.Earliest)},
				{"latest", formatOptionalTime(stats.Latest)},
				{"size", formatBytes(stats.DBSizeBytes)},
			}
			names := make([]string, 0, len(out.Categories))
			for c := range out.Categories {
				names = append(names, c)
			}
			sort.Strings(names)
			for _, c := range names {
				rows = append(rows, []string{"category " + orDash(c), strconv.FormatInt(out.Categories[c], 10)})
			}
			return PrintTable(os.Stdout, []string{"metric", "value"}, rows)
		},
	}
}

func newCacheWindowsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "List the hour windows recorded as fully fetched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			windows, err := a.ListWindows(cmd.Context())
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				out := make([]windowJSON, 0, len(windows))
				for _, w := range windows {
					out = append(out, toWindowJSON(w))
				}
				return PrintJSON(os.Stdout, out)
			}
			if len(windows) == 0 {
				_, _ = fmt.Fprintln(opts.stderr, "No windows fetched yet.")
				return nil
			}
			rows := make([][]string, 0, len(windows))
			for _, w := range windows {
				rows = append(rows, []string{
					formatTime(w.Start),
					formatTime(w.End),
					strconv.Itoa(w.FileCount),
					strconv.Itoa(w.EntryCount),
					formatTime(w.FetchedAt),
				})
			}
			return PrintTable(os.Stdout, []string{"start", "end", "files", "entries", "fetched at"}, rows)
		},
	}
}

func newCacheClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached entry and fetched window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), opts.stderr, fmt.Sprintf("Delete all cached audit logs in %s?", opts.cfg.CachePath()))
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintln(opts.stderr, "Aborted.")
					return nil
				}
			}

			a, err := opts.openApp()
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if err := a.Clear(cmd.Context()); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return PrintJSON(os.Stdout, map[string]string{"status": "ok"})
			}
			_, _ = fmt.Fprintln(os.Stdout, "Cache cleared.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// confirm asks a yes/no question and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	_, _ = fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
