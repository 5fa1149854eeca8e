package pgstore

import (
	"fmt"
	"strings"

	"github.com/keithlinneman/dentalacademy/internal/store"
)

var columns = map[string]string{
	"category":     "category",
	"level":        "level",
	"status":       "status",
	"instructorId": "instructor_id",
	"priceCents":   "price_cents",
	"title":        "title",
}

// whereClause renders f as a parameterized WHERE clause. Values are never
// interpolated into the SQL text.
func whereClause(f store.Filter) (string, []any, error) {
	if len(f.Conds) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(f.Conds))
	args := make([]any, 0, len(f.Conds))
	for _, c := range f.Conds {
		col, ok := columns[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: field %q", store.ErrUnsupportedFilter, c.Field)
		}
		args = append(args, c.Value)
		n := len(args)
		switch c.Op {
		case store.OpEq:
			parts = append(parts, fmt.Sprintf("%s = $%d", col, n))
		case store.OpNe:
			parts = append(parts, fmt.Sprintf("%s <> $%d", col, n))
		case store.OpGt:
			parts = append(parts, fmt.Sprintf("%s > $%d", col, n))
		case store.OpGte:
			parts = append(parts, fmt.Sprintf("%s >= $%d", col, n))
		case store.OpLt:
			parts = append(parts, fmt.Sprintf("%s < $%d", col, n))
		case store.OpLte:
			parts = append(parts, fmt.Sprintf("%s <= $%d", col, n))
		case store.OpIn:
			parts = append(parts, fmt.Sprintf("%s = ANY($%d)", col, n))
		case store.OpNin:
			parts = append(parts, fmt.Sprintf("NOT (%s = ANY($%d))", col, n))
		case store.OpRegex:
			parts = append(parts, fmt.Sprintf("%s ~* $%d", col, n))
		default:
			return "", nil, fmt.Errorf("%w: operator %s", store.ErrUnsupportedFilter, c.Op)
		}
	}
	return "WHERE " + strings.Join(parts, " AND "), args, nil
}
