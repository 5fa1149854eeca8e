package sanitize

import "strings"

var allowedOperators = map[string]struct{}{
	"$eq": {}, "$ne": {}, "$gt": {}, "$gte": {}, "$lt": {}, "$lte": {},
	"$in": {}, "$nin": {},
	"$and": {}, "$or": {}, "$not": {}, "$nor": {},
	"$exists": {}, "$type": {}, "$regex": {},
}

// QueryFilter returns a copy of v with every object key that starts with '$'
// removed unless it is an allowed comparison or logical operator. Only apply
// it to values that become store filters.
func QueryFilter(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if strings.HasPrefix(k, "$") {
				if _, ok := allowedOperators[k]; !ok {
					continue
				}
			}
			out[k] = QueryFilter(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = QueryFilter(child)
		}
		return out
	default:
		return v
	}
}
