package postgres

import (
	"fmt"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// windowed appends the ListOpts time window on column, the ordering and the
// pagination to query. args holds the parameters already bound by query.
func windowed(query string, args []any, column string, desc bool, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", column, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", column, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + column
	if desc {
		query += " DESC"
	}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
