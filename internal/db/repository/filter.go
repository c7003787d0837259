package repository

import (
	"strings"

	"unqork-logs/internal/domain"
)

// buildWhere turns the predicates present in f into a WHERE clause.
// It returns an empty clause when f has no predicates.
func buildWhere(f domain.FilterSpec) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.Start != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatStoredTime(*f.Start))
	}
	if f.End != nil {
		conds = append(conds, "timestamp < ?")
		args = append(args, formatStoredTime(*f.End))
	}
	if f.Category != nil {
		conds = append(conds, "category = ? COLLATE NOCASE")
		args = append(args, string(*f.Category))
	}
	if f.Outcome != nil {
		conds = append(conds, "outcome_type = ? COLLATE NOCASE")
		args = append(args, string(*f.Outcome))
	}

	contains := []struct {
		column string
		value  *string
	}{
		{"action", f.Action},
		{"actor_id", f.Actor},
		{"source", f.Source},
		{"client_ip", f.ClientIP},
		{"environment", f.Environment},
	}
	for _, c := range contains {
		if c.value == nil {
			continue
		}
		conds = append(conds, c.column+` LIKE ? ESCAPE '\'`)
		args = append(args, likeContains(*c.value))
	}

	if f.Search != nil {
		conds = append(conds, `search_text LIKE ? ESCAPE '\'`)
		args = append(args, likeContains(strings.ToLower(*f.Search)))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
