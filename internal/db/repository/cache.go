package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"unqork-logs/internal/domain"
)

var _ domain.CacheStore = (*CacheRepo)(nil)

const entryColumns = `id, raw_json, timestamp, category, action, event_type, source,
	outcome_type, actor_type, actor_id, client_ip, environment, host, session_id,
	object_type, search_text, window_start`

const insertEntrySQL = `INSERT INTO log_entries (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

const windowColumns = `window_start, window_end, fetched_at, file_count, entry_count, run_id`

// CacheRepo is the SQLite-backed cache of audit entries and the ledger of
// fully captured windows. All writes go through the single-connection write
// pool; reads use the read pool and only observe committed transactions.
type CacheRepo struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
	now     func() time.Time
}

// NewCacheRepo creates a CacheRepo. path is the database file, used for
// size reporting only; readDB may equal writeDB.
func NewCacheRepo(writeDB, readDB *sql.DB, path string) *CacheRepo {
	return &CacheRepo{writeDB: writeDB, readDB: readDB, path: path, now: time.Now}
}

// UpsertEntries inserts entries in one transaction and returns how many were
// new. Existing IDs are skipped, so re-ingesting is a no-op.
func (r *CacheRepo) UpsertEntries(ctx context.Context, entries []domain.AuditEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	var added int
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		n, err := insertEntries(ctx, tx, entries)
		added = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("upsert entries: %w", err)
	}
	return added, nil
}

// CommitWindow stores entries and the window's ledger row in a single
// transaction. An identical ledger row that is already present is left as is.
func (r *CacheRepo) CommitWindow(ctx context.Context, w domain.FetchWindow, entries []domain.AuditEntry) (int, error) {
	var added int
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		n, err := insertEntries(ctx, tx, entries)
		if err != nil {
			return err
		}
		added = n
		if err := r.insertWindow(ctx, tx, w); err != nil && !isUniqueViolation(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("commit window %s: %w", w, err)
	}
	return added, nil
}

// RecordWindow adds w to the ledger. It returns a *domain.LedgerConflictError
// when the identical window is already recorded.
func (r *CacheRepo) RecordWindow(ctx context.Context, w domain.FetchWindow) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		return r.insertWindow(ctx, tx, w)
	})
	if isUniqueViolation(err) {
		return &domain.LedgerConflictError{Window: w}
	}
	if err != nil {
		return fmt.Errorf("record window %s: %w", w, err)
	}
	return nil
}

// IsWindowComplete reports whether exactly w is in the ledger.
func (r *CacheRepo) IsWindowComplete(ctx context.Context, w domain.FetchWindow) (bool, error) {
	key := w.Key()
	var one int
	err := r.readDB.QueryRowContext(ctx,
		`SELECT 1 FROM fetched_windows WHERE window_start = ? AND window_end = ?`,
		key.Start, key.End,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check window %s: %w", w, err)
	}
	return true, nil
}

// WindowsBetween returns ledger rows that overlap [start, end), oldest first.
func (r *CacheRepo) WindowsBetween(ctx context.Context, start, end time.Time) ([]domain.FetchWindow, error) {
	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+windowColumns+` FROM fetched_windows
		 WHERE window_start < ? AND window_end > ?
		 ORDER BY window_start, window_end`,
		domain.FormatAPITime(end), domain.FormatAPITime(start),
	)
	if err != nil {
		return nil, fmt.Errorf("list windows between: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return scanWindows(rows)
}

// ListWindows returns the whole ledger, oldest first.
func (r *CacheRepo) ListWindows(ctx context.Context) ([]domain.FetchWindow, error) {
	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+windowColumns+` FROM fetched_windows ORDER BY window_start, window_end`)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return scanWindows(rows)
}

// Query returns entries matching filter, newest first.
func (r *CacheRepo) Query(ctx context.Context, filter domain.FilterSpec, page domain.PageRequest) ([]domain.AuditEntry, error) {
	where, args := buildWhere(filter)
	args = append(args, page.Limit(), page.EffectiveOffset())

	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM log_entries`+where+
			` ORDER BY timestamp DESC, id ASC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return scanEntries(rows)
}

// Count returns the number of entries matching filter.
func (r *CacheRepo) Count(ctx context.Context, filter domain.FilterSpec) (int64, error) {
	where, args := buildWhere(filter)
	var n int64
	if err := r.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_entries`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// GetByID returns the entry with exactly this ID.
func (r *CacheRepo) GetByID(ctx context.Context, id string) (*domain.AuditEntry, error) {
	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM log_entries WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, mapDBError(sql.ErrNoRows, "entry %q not found", id)
	}
	return &entries[0], nil
}

// FindByIDPrefix returns up to limit entries whose ID starts with prefix,
// ordered by ID.
func (r *CacheRepo) FindByIDPrefix(ctx context.Context, prefix string, limit int) ([]domain.AuditEntry, error) {
	if prefix == "" {
		return nil, domain.ErrValidation("ID prefix must not be empty")
	}
	if limit <= 0 {
		limit = 2
	}

	query := `SELECT ` + entryColumns + ` FROM log_entries WHERE id >= ?`
	args := []interface{}{prefix}
	if bound, ok := prefixUpperBound(prefix); ok {
		query += ` AND id < ?`
		args = append(args, bound)
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)

	rows, err := r.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find by ID prefix: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return scanEntries(rows)
}

// Stats summarises the cache. Counts are read in one transaction so they are
// mutually consistent.
func (r *CacheRepo) Stats(ctx context.Context) (*domain.CacheStats, error) {
	tx, err := r.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("stats: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stats := &domain.CacheStats{Categories: map[domain.Category]int64{}}

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_entries`).Scan(&stats.EntryCount); err != nil {
		return nil, fmt.Errorf("stats: count entries: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM fetched_windows`).Scan(&stats.WindowCount); err != nil {
		return nil, fmt.Errorf("stats: count windows: %w", err)
	}

	var earliest, latest sql.NullString
	if err := tx.QueryRowContext(ctx,
		`SELECT MIN(timestamp), MAX(timestamp) FROM log_entries`,
	).Scan(&earliest, &latest); err != nil {
		return nil, fmt.Errorf("stats: range: %w", err)
	}
	if earliest.Valid {
		t, err := parseStoredTime(earliest.String)
		if err != nil {
			return nil, err
		}
		stats.Earliest = &t
	}
	if latest.Valid {
		t, err := parseStoredTime(latest.String)
		if err != nil {
			return nil, err
		}
		stats.Latest = &t
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM log_entries GROUP BY category ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("stats: categories: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("stats: scan category: %w", err)
		}
		stats.Categories[domain.Category(cat)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: categories: %w", err)
	}

	if r.path != "" {
		for _, p := range []string{r.path, r.path + "-wal", r.path + "-shm"} {
			if fi, err := os.Stat(p); err == nil {
				stats.DBSizeBytes += fi.Size()
			}
		}
	}
	return stats, nil
}

// Clear removes every entry and ledger row in one transaction.
func (r *CacheRepo) Clear(ctx context.Context) error {
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM log_entries`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM fetched_windows`)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

func (r *CacheRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *CacheRepo) insertWindow(ctx context.Context, tx *sql.Tx, w domain.FetchWindow) error {
	fetchedAt := w.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = r.now()
	}
	key := w.Key()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO fetched_windows (`+windowColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		key.Start, key.End, domain.FormatAPITime(fetchedAt), w.FileCount, w.EntryCount, w.RunID,
	)
	return err
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []domain.AuditEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, insertEntrySQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	added := 0
	for i := range entries {
		e := &entries[i]
		search := e.SearchText
		if search == "" {
			search = e.BuildSearchText()
		}
		var windowStart string
		if !e.WindowStart.IsZero() {
			windowStart = domain.FormatAPITime(e.WindowStart)
		}
		res, err := stmt.ExecContext(ctx,
			e.ID, string(e.Raw), formatStoredTime(e.Timestamp), string(e.Category), e.Action,
			e.EventType, e.Source, string(e.Outcome), e.ActorType, e.Actor, e.ClientIP,
			e.Environment, e.Host, e.SessionID, e.ObjectType, search, windowStart,
		)
		if err != nil {
			return 0, fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert entry %s: rows affected: %w", e.ID, err)
		}
		added += int(n)
	}
	return added, nil
}

func scanEntries(rows *sql.Rows) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e                     domain.AuditEntry
			raw, ts, cat, outcome string
			windowStart           string
		)
		if err := rows.Scan(
			&e.ID, &raw, &ts, &cat, &e.Action, &e.EventType, &e.Source,
			&outcome, &e.ActorType, &e.Actor, &e.ClientIP, &e.Environment, &e.Host,
			&e.SessionID, &e.ObjectType, &e.SearchText, &windowStart,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		t, err := parseStoredTime(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = t
		e.Raw = json.RawMessage(raw)
		e.Category = domain.Category(cat)
		e.Outcome = domain.Outcome(outcome)
		if windowStart != "" {
			if ws, err := parseWindowTime(windowStart); err == nil {
				e.WindowStart = ws
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan entries: %w", err)
	}
	return entries, nil
}

func scanWindows(rows *sql.Rows) ([]domain.FetchWindow, error) {
	var windows []domain.FetchWindow
	for rows.Next() {
		var (
			w                     domain.FetchWindow
			start, end, fetchedAt string
		)
		if err := rows.Scan(&start, &end, &fetchedAt, &w.FileCount, &w.EntryCount, &w.RunID); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		var err error
		if w.Start, err = parseWindowTime(start); err != nil {
			return nil, err
		}
		if w.End, err = parseWindowTime(end); err != nil {
			return nil, err
		}
		if w.FetchedAt, err = parseWindowTime(fetchedAt); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan windows: %w", err)
	}
	return windows, nil
}
