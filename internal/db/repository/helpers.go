// Package repository implements the domain store interfaces on SQLite.
package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"unqork-logs/internal/domain"
)

// storedTimeLayout is a fixed-width UTC layout so that lexical order of the
// stored text equals chronological order.
const storedTimeLayout = "2006-01-02T15:04:05.000000Z"

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(storedTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

// parseWindowTime parses ledger bounds, which are kept in the API layout so
// that ledger rows match the exact strings sent to the API.
func parseWindowTime(s string) (time.Time, error) {
	t, err := time.Parse(domain.APITimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse window time %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func mapDBError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound(format, args...)
	}
	return err
}

// likeContains builds a LIKE pattern matching s anywhere, escaping LIKE
// metacharacters with a backslash.
func likeContains(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// prefixUpperBound returns the smallest string greater than every string with
// the given prefix, so that [prefix, bound) is an index range scan.
// ok is false when no such bound exists (prefix of all 0xff bytes).
func prefixUpperBound(prefix string) (bound string, ok bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
