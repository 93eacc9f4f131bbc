package postgres

import (
	"fmt"
	"sort"
	"strings"
)

// buildWhereClauseWithOffset builds a WHERE clause on JSONB metadata keys,
// numbering placeholders from startIndex.
func buildWhereClauseWithOffset(filters map[string]string, startIndex int) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}

	// Sorted keys keep the generated SQL stable.
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)*2)
	argIndex := startIndex
	for _, k := range keys {
		conditions = append(conditions, fmt.Sprintf("metadata->>$%d = $%d", argIndex, argIndex+1))
		args = append(args, k, filters[k])
		argIndex += 2
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
