package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unqork-logs/internal/domain"
	"unqork-logs/internal/parser"
	"unqork-logs/internal/testutil"
)

// fakeAPI serves canned locations and files. Files whose body is nil fail
// with a 404; onDownload, if set, runs before each download.
type fakeAPI struct {
	mu         sync.Mutex
	locations  map[domain.WindowKey][]string
	files      map[string][]byte
	listErr    error
	onDownload func(ctx context.Context, url string) error

	listCalls     atomic.Int32
	downloadCalls atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{locations: map[domain.WindowKey][]string{}, files: map[string][]byte{}}
}

func (f *fakeAPI) addWindow(t *testing.T, w domain.FetchWindow, files int, entriesPerFile int) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < files; i++ {
		url := fmt.Sprintf("https://files.example/%s/%d.gz", w.Key().Start, i)
		f.locations[w.Key()] = append(f.locations[w.Key()], url)
		f.files[url] = gzipFile(t, w.Start, i, entriesPerFile)
	}
}

func (f *fakeAPI) ListLogLocations(_ context.Context, w domain.FetchWindow) ([]string, error) {
	f.listCalls.Add(1)
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.locations[w.Key()]...), nil
}

func (f *fakeAPI) Download(ctx context.Context, url string) ([]byte, error) {
	f.downloadCalls.Add(1)
	if f.onDownload != nil {
		if err := f.onDownload(ctx, url); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[url]
	if !ok || data == nil {
		return nil, &domain.APIError{URL: url, StatusCode: 404}
	}
	return data, nil
}

func (f *fakeAPI) calls() int32 { return f.listCalls.Load() + f.downloadCalls.Load() }

func gzipFile(t *testing.T, windowStart time.Time, file, entries int) []byte {
	t.Helper()
	var lines []string
	for j := 0; j < entries; j++ {
		ts := windowStart.Add(time.Duration(file*entries+j) * time.Second)
		lines = append(lines, fmt.Sprintf(
			`{"timestamp":%q,"category":"user-access","action":"login","object":{"actor":{"identifier":{"value":"user-%d-%d"}}}}`,
			ts.Format(time.RFC3339Nano), file, j))
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestOrchestrator(api LogAPI, store domain.WindowCommitter, concurrency int) *Orchestrator {
	o := NewOrchestrator(OrchestratorConfig{
		API:         api,
		Parser:      parser.New(parser.DefaultTolerance, nil),
		Store:       store,
		Concurrency: concurrency,
	})
	o.now = func() time.Time { return at(23, 0).Add(48 * time.Hour) }
	return o
}

func TestFetch_TwoWindowsThreeFiles(t *testing.T) {
	ctx := context.Background()
	store := newLedger(t)
	planner := NewPlanner(store)
	api := newFakeAPI()

	windows, err := planner.Plan(ctx, at(9, 0), at(11, 0))
	require.NoError(t, err)
	require.Len(t, windows, 2)
	for _, w := range windows {
		api.addWindow(t, w, 3, 4)
	}

	o := newTestOrchestrator(api, store, 15)
	sum, err := o.Fetch(ctx, windows, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.WindowsRequested)
	assert.Equal(t, 2, sum.WindowsCompleted)
	assert.Equal(t, 0, sum.WindowsFailed)
	assert.Equal(t, 6, sum.FilesDownloaded)
	assert.Equal(t, 24, sum.EntriesParsed)
	assert.Equal(t, 24, sum.EntriesAdded)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, int32(8), api.calls())

	recorded, err := store.ListWindows(ctx)
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, 3, recorded[0].FileCount)
	assert.Equal(t, 12, recorded[0].EntryCount)
	assert.Equal(t, sum.RunID, recorded[0].RunID)

	// A second run over the same range does no remote work.
	again, err := planner.Plan(ctx, at(9, 0), at(11, 0))
	require.NoError(t, err)
	assert.Empty(t, again)
	sum, err = o.Fetch(ctx, again, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.EntriesAdded)
	assert.Equal(t, int32(8), api.calls())
}

func TestFetch_EmptyWindowIsRecorded(t *testing.T) {
	ctx := context.Background()
	store := newLedger(t)
	w := domain.NewFetchWindow(at(9, 0), at(10, 0))

	sum, err := newTestOrchestrator(newFakeAPI(), store, 2).Fetch(ctx, []domain.FetchWindow{w}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.WindowsCompleted)

	done, err := store.IsWindowComplete(ctx, w)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestFetch_FileFailureKeepsEntriesButNotLedger(t *testing.T) {
	ctx := context.Background()
	store := newLedger(t)
	api := newFakeAPI()
	bad := domain.NewFetchWindow(at(9, 0), at(10, 0))
	good := domain.NewFetchWindow(at(10, 0), at(11, 0))
	api.addWindow(t, bad, 3, 2)
	api.addWindow(t, good, 1, 2)
	// Break the last file of the first window.
	api.files[api.locations[bad.Key()][2]] = nil

	sum, err := newTestOrchestrator(api, store, 1).Fetch(ctx, []domain.FetchWindow{bad, good}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.WindowsFailed)
	assert.Equal(t, 1, sum.WindowsCompleted)
	require.Len(t, sum.Failures, 1)
	assert.True(t, sum.Failures[0].Window.SameInterval(bad))
	var apiErr *domain.APIError
	assert.ErrorAs(t, sum.Failures[0].Err, &apiErr)

	done, err := store.IsWindowComplete(ctx, bad)
	require.NoError(t, err)
	assert.False(t, done)
	done, err = store.IsWindowComplete(ctx, good)
	require.NoError(t, err)
	assert.True(t, done)

	n, err := store.Count(ctx, domain.FilterSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), n, "entries from the two good files plus the good window")

	// The failed window is planned again.
	pending, err := NewPlanner(store).Plan(ctx, at(9, 0), at(11, 0))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].SameInterval(bad))
}

func TestFetch_ParseFailureFailsWindow(t *testing.T) {
	ctx := context.Background()
	store := newLedger(t)
	api := newFakeAPI()
	w := domain.NewFetchWindow(at(9, 0), at(10, 0))
	api.addWindow(t, w, 2, 1)
	api.files[api.locations[w.Key()][0]] = []byte("garbage")

	sum, err := newTestOrchestrator(api, store, 1).Fetch(ctx, []domain.FetchWindow{w}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sum.WindowsFailed)
	var parseErr *domain.ParseError
	assert.ErrorAs(t, sum.Failures[0].Err, &parseErr)
}

func TestFetch_AuthErrorIsFatal(t *testing.T) {
	api := newFakeAPI()
	api.listErr = domain.ErrAuth(errors.New("401"), "authentication failed")
	windows := []domain.FetchWindow{
		domain.NewFetchWindow(at(9, 0), at(10, 0)),
		domain.NewFetchWindow(at(10, 0), at(11, 0)),
	}

	_, err := newTestOrchestrator(api, newLedger(t), 2).Fetch(context.Background(), windows, nil)
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, int32(1), api.listCalls.Load())
}

func TestFetch_CancelSalvagesParsedEntries(t *testing.T) {
	store := newLedger(t)
	api := newFakeAPI()
	w := domain.NewFetchWindow(at(9, 0), at(10, 0))
	next := domain.NewFetchWindow(at(10, 0), at(11, 0))
	api.addWindow(t, w, 3, 2)
	api.addWindow(t, next, 1, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	last := api.locations[w.Key()][2]
	api.onDownload = func(ctx context.Context, url string) error {
		if url == last {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	sum, err := newTestOrchestrator(api, store, 1).Fetch(ctx, []domain.FetchWindow{w, next}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.True(t, sum.Canceled)
	assert.Equal(t, 4, sum.EntriesAdded)

	bg := context.Background()
	done, err := store.IsWindowComplete(bg, w)
	require.NoError(t, err)
	assert.False(t, done)
	n, err := store.Count(bg, domain.FilterSpec{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, int32(1), api.listCalls.Load(), "no window after the cancel is started")
}

func TestFetch_OpenWindowNotRecorded(t *testing.T) {
	ctx := context.Background()
	store := newLedger(t)
	api := newFakeAPI()
	w := domain.NewFetchWindow(at(9, 0), at(10, 0))
	api.addWindow(t, w, 1, 3)

	o := newTestOrchestrator(api, store, 1)
	o.now = func() time.Time { return at(9, 30) }

	sum, err := o.Fetch(ctx, []domain.FetchWindow{w}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.WindowsOpen)
	assert.Equal(t, 0, sum.WindowsCompleted)
	assert.Equal(t, 3, sum.EntriesAdded)

	done, err := store.IsWindowComplete(ctx, w)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestFetch_StoreErrorIsFatal(t *testing.T) {
	api := newFakeAPI()
	windows := []domain.FetchWindow{
		domain.NewFetchWindow(at(9, 0), at(10, 0)),
		domain.NewFetchWindow(at(10, 0), at(11, 0)),
	}
	for _, w := range windows {
		api.addWindow(t, w, 1, 1)
	}

	store := &testutil.MockCacheStore{
		UpsertEntriesFn: func(context.Context, []domain.AuditEntry) (int, error) {
			return 0, errors.New("disk full")
		},
		CommitWindowFn: func(context.Context, domain.FetchWindow, []domain.AuditEntry) (int, error) {
			return 0, errors.New("disk full")
		},
	}
	_, err := newTestOrchestrator(api, store, 1).Fetch(context.Background(), windows, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, int32(1), api.listCalls.Load())
}

// recordingProgress counts events.
type recordingProgress struct {
	started, files, done, failed atomic.Int32
}

func (p *recordingProgress) WindowStarted(domain.FetchWindow, int, int) { p.started.Add(1) }
func (p *recordingProgress) FileDone(domain.FetchWindow, int, int)      { p.files.Add(1) }
func (p *recordingProgress) WindowDone(domain.FetchWindow, int, bool)   { p.done.Add(1) }
func (p *recordingProgress) WindowFailed(domain.FetchWindow, error)     { p.failed.Add(1) }

func TestFetch_ReportsProgress(t *testing.T) {
	api := newFakeAPI()
	windows := []domain.FetchWindow{
		domain.NewFetchWindow(at(9, 0), at(10, 0)),
		domain.NewFetchWindow(at(10, 0), at(11, 0)),
	}
	api.addWindow(t, windows[0], 4, 1)
	api.addWindow(t, windows[1], 1, 1)
	api.files[api.locations[windows[1].Key()][0]] = nil

	p := &recordingProgress{}
	_, err := newTestOrchestrator(api, newLedger(t), 3).Fetch(context.Background(), windows, p)
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.started.Load())
	assert.Equal(t, int32(4), p.files.Load())
	assert.Equal(t, int32(1), p.done.Load())
	assert.Equal(t, int32(1), p.failed.Load())
}

func TestFetch_WindowMetadata(t *testing.T) {
	w := domain.NewFetchWindow(at(9, 0), at(10, 0))
	files := map[string][]byte{
		"a": gzipFile(t, w.Start, 0, 3),
		"b": gzipFile(t, w.Start, 1, 3),
	}
	api := &testutil.MockLogAPI{
		ListLogLocationsFn: func(_ context.Context, got domain.FetchWindow) ([]string, error) {
			assert.True(t, got.SameInterval(w))
			return []string{"a", "b"}, nil
		},
		DownloadFn: func(_ context.Context, url string) ([]byte, error) {
			return files[url], nil
		},
	}
	store := &testutil.MockCacheStore{}

	sum, err := newTestOrchestrator(api, store, 2).Fetch(context.Background(), []domain.FetchWindow{w}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.EntriesAdded)

	require.Equal(t, 1, store.WindowCount())
	rec := store.Windows[0]
	assert.Equal(t, 2, rec.FileCount)
	assert.Equal(t, 6, rec.EntryCount)
	assert.Equal(t, sum.RunID, rec.RunID)
	assert.False(t, rec.FetchedAt.IsZero())
	for _, e := range store.Entries {
		assert.True(t, e.WindowStart.Equal(w.Start), "entries carry their window start")
	}
}
