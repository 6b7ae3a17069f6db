package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// listQuery appends filters and pagination to a SELECT over a table with a
// timestamp column.
type listQuery struct {
	sb    strings.Builder
	args  []any
	where bool
}

func newListQuery(base string) *listQuery {
	q := &listQuery{}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *listQuery) and(cond string) {
	if q.where {
		q.sb.WriteString(" AND ")
	} else {
		q.sb.WriteString(" WHERE ")
		q.where = true
	}
	q.sb.WriteString(cond)
}

// filter applies the time window on col, then ordering and pagination.
func (q *listQuery) filter(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.and(col + " >= " + q.arg(*opts.Since))
	}
	if opts.Until != nil {
		q.and(col + " <= " + q.arg(*opts.Until))
	}
	q.sb.WriteString(" ORDER BY " + col + " DESC")
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
}

func (q *listQuery) String() string {
	return q.sb.String()
}
