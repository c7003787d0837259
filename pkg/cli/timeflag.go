package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"unqork-logs/internal/domain"
)

// inputLayouts are the datetime forms accepted on the command line.
// Values without a zone are UTC.
var inputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDateTime parses a user-supplied datetime such as "2025-02-17",
// "2025-02-17 09:00" or "2025-02-17T09:00:00.000Z".
func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime %q: use a form like 2025-02-17, '2025-02-17 09:00' or 2025-02-17T09:00:00.000Z", s)
}

// parseRelative parses a look-back span such as "24h", "7d" or "30m".
func parseRelative(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("cannot parse relative time %q: use a form like 24h, 7d or 30m", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("cannot parse relative time %q: use a form like 24h, 7d or 30m", s)
	}
	switch s[len(s)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("cannot parse relative time %q: use a form like 24h, 7d or 30m", s)
}

// timeValue is a pflag.Value holding an optional UTC datetime.
type timeValue struct {
	t *time.Time
}

var _ pflag.Value = (*timeValue)(nil)

func (v *timeValue) String() string {
	if v.t == nil || v.t.IsZero() {
		return ""
	}
	return domain.FormatAPITime(*v.t)
}

func (v *timeValue) Set(s string) error {
	t, err := parseDateTime(s)
	if err != nil {
		return err
	}
	*v.t = t
	return nil
}

func (v *timeValue) Type() string { return "datetime" }

// relativeValue is a pflag.Value holding a look-back span.
type relativeValue struct {
	d *time.Duration
}

var _ pflag.Value = (*relativeValue)(nil)

func (v *relativeValue) String() string {
	if v.d == nil || *v.d == 0 {
		return ""
	}
	return v.d.String()
}

func (v *relativeValue) Set(s string) error {
	d, err := parseRelative(s)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

func (v *relativeValue) Type() string { return "span" }

// rangeFlags are the --start/--end/--last flags shared by fetch and list.
type rangeFlags struct {
	start time.Time
	end   time.Time
	last  time.Duration
}

func (r *rangeFlags) register(fs *pflag.FlagSet) {
	fs.VarP(&timeValue{t: &r.start}, "start", "s", "Start datetime, inclusive (e.g. 2025-02-17, '2025-02-17 09:00')")
	fs.VarP(&timeValue{t: &r.end}, "end", "e", "End datetime, exclusive (same forms as --start)")
	fs.VarP(&relativeValue{d: &r.last}, "last", "l", "Relative range ending now (e.g. 24h, 7d, 30m)")
}

// resolve returns the selected range. --last wins over --start/--end; either
// bound may be zero when it was not given.
func (r *rangeFlags) resolve(cmd *cobra.Command, now time.Time) (start, end time.Time, err error) {
	if r.last > 0 {
		if cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
			return time.Time{}, time.Time{}, fmt.Errorf("--last cannot be combined with --start or --end")
		}
		now = now.UTC()
		return now.Add(-r.last), now, nil
	}
	return r.start, r.end, nil
}
