package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"unqork-logs/internal/domain"
	"unqork-logs/internal/parser"
)

// DefaultConcurrency is the per-window download pool size.
const DefaultConcurrency = 15

// LogAPI is the remote side of a fetch.
type LogAPI interface {
	ListLogLocations(ctx context.Context, w domain.FetchWindow) ([]string, error)
	Download(ctx context.Context, fileURL string) ([]byte, error)
}

// FileParser decodes one downloaded file.
type FileParser interface {
	Parse(data []byte) (*parser.ParseResult, error)
}

// WindowFailure records why a window was not completed.
type WindowFailure struct {
	Window domain.FetchWindow
	Err    error
}

// Summary describes the outcome of one Fetch call.
type Summary struct {
	RunID            string
	WindowsRequested int
	WindowsSkipped   int // already in the ledger before the fetch
	WindowsCompleted int
	WindowsOpen      int // fetched but not recorded because they end in the future
	WindowsFailed    int
	FilesDownloaded  int
	EntriesParsed    int
	EntriesAdded     int
	ParseWarnings    int
	Failures         []WindowFailure
	Canceled         bool
}

// OrchestratorConfig holds the dependencies of an Orchestrator.
type OrchestratorConfig struct {
	API         LogAPI
	Parser      FileParser
	Store       domain.WindowCommitter
	Concurrency int
	Logger      *slog.Logger
}

// Orchestrator downloads, parses and stores windows. Windows are processed
// one after another; files within a window are downloaded by a bounded pool.
type Orchestrator struct {
	api         LogAPI
	parser      FileParser
	store       domain.WindowCommitter
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		api:         cfg.API,
		parser:      cfg.Parser,
		store:       cfg.Store,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger.With("component", "fetch"),
		now:         time.Now,
	}
}

// Fetch processes windows in order and returns a summary.
//
// A window is recorded in the ledger only if every file was downloaded and
// parsed, in the same transaction as its entries. When a file fails, entries
// from the files that did succeed are still stored and the next window is
// tried. Authentication and storage errors stop the fetch. On cancellation
// the entries parsed so far are stored and the partial summary is returned
// with ctx.Err().
func (o *Orchestrator) Fetch(ctx context.Context, windows []domain.FetchWindow, progress Progress) (*Summary, error) {
	if progress == nil {
		progress = NopProgress{}
	}
	sum := &Summary{RunID: uuid.NewString(), WindowsRequested: len(windows)}
	log := o.logger.With("run_id", sum.RunID)

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			sum.Canceled = true
			return sum, err
		}
		progress.WindowStarted(w, i, len(windows))

		res, err := o.fetchWindow(ctx, w, progress)
		sum.FilesDownloaded += res.files
		sum.EntriesParsed += len(res.entries)
		sum.ParseWarnings += res.warnings

		if err == nil {
			added, open, serr := o.storeWindow(ctx, w, res, sum.RunID)
			if serr != nil && ctx.Err() != nil {
				// The commit was aborted; keep the entries without the ledger row.
				salvaged, err := o.store.UpsertEntries(context.WithoutCancel(ctx), res.entries)
				if err != nil {
					return sum, fmt.Errorf("store partial window %s: %w", w, err)
				}
				sum.EntriesAdded += salvaged
				sum.Canceled = true
				return sum, ctx.Err()
			}
			if serr != nil {
				return sum, serr
			}
			sum.EntriesAdded += added
			if open {
				sum.WindowsOpen++
			} else {
				sum.WindowsCompleted++
			}
			log.Debug("window stored", "window", w.String(), "files", res.files, "entries", len(res.entries), "added", added, "open", open)
			progress.WindowDone(w, len(res.entries), !open)
			continue
		}

		// Keep whatever was parsed, even when the caller has given up.
		added, serr := o.store.UpsertEntries(context.WithoutCancel(ctx), res.entries)
		if serr != nil {
			return sum, fmt.Errorf("store partial window %s: %w", w, serr)
		}
		sum.EntriesAdded += added

		if ctx.Err() != nil {
			sum.Canceled = true
			log.Info("fetch canceled", "window", w.String(), "salvaged", added)
			return sum, ctx.Err()
		}
		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			progress.WindowFailed(w, err)
			return sum, err
		}

		sum.WindowsFailed++
		sum.Failures = append(sum.Failures, WindowFailure{Window: w, Err: err})
		log.Warn("window failed", "window", w.String(), "salvaged", added, "error", err)
		progress.WindowFailed(w, err)
	}
	return sum, nil
}

type windowResult struct {
	files    int
	entries  []domain.AuditEntry
	warnings int
}

// fetchWindow lists and downloads every file of w. The result holds the
// entries of all files that were parsed, also when err is non-nil.
func (o *Orchestrator) fetchWindow(ctx context.Context, w domain.FetchWindow, progress Progress) (windowResult, error) {
	locs, err := o.api.ListLogLocations(ctx, w)
	if err != nil {
		return windowResult{}, err
	}

	results := make([]*parser.ParseResult, len(locs))
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, loc := range locs {
		g.Go(func() error {
			data, err := o.api.Download(gctx, loc)
			if err != nil {
				return fmt.Errorf("download file %d of %d: %w", i+1, len(locs), err)
			}
			parsed, err := o.parser.Parse(data)
			if err != nil {
				return fmt.Errorf("parse file %d of %d: %w", i+1, len(locs), err)
			}
			results[i] = parsed
			progress.FileDone(w, int(done.Add(1)), len(locs))
			return nil
		})
	}
	err = g.Wait()

	var res windowResult
	for _, r := range results {
		if r == nil {
			continue
		}
		res.files++
		res.warnings += r.Malformed
		for _, e := range r.Entries {
			e.WindowStart = w.Start
			res.entries = append(res.entries, e)
		}
	}
	return res, err
}

// storeWindow persists a fully fetched window. Windows that end in the
// future may still gain events, so their entries are stored without a
// ledger row and open is true.
func (o *Orchestrator) storeWindow(ctx context.Context, w domain.FetchWindow, res windowResult, runID string) (added int, open bool, err error) {
	now := o.now()
	if w.End.After(now) {
		added, err = o.store.UpsertEntries(ctx, res.entries)
		if err != nil {
			return 0, true, fmt.Errorf("store open window %s: %w", w, err)
		}
		return added, true, nil
	}

	w.FetchedAt = now
	w.FileCount = res.files
	w.EntryCount = len(res.entries)
	w.RunID = runID
	added, err = o.store.CommitWindow(ctx, w, res.entries)
	if err != nil {
		return 0, false, fmt.Errorf("commit window %s: %w", w, err)
	}
	return added, false, nil
}
