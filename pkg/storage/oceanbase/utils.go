package oceanbase

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// vectorToString converts a float64 slice to an OceanBase VECTOR literal.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// stringToVector parses a VECTOR literal back into a float64 slice.
func stringToVector(s string) ([]float64, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result[i] = v
	}

	return result, nil
}

// buildWhereClause builds a WHERE clause over JSON metadata keys.
func buildWhereClause(filters map[string]string) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))
	for _, key := range keys {
		if key == "category" {
			conditions = append(conditions, "category = ?")
		} else {
			conditions = append(conditions, fmt.Sprintf("metadata->>'$.%s' = ?", key))
		}
		args = append(args, filters[key])
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
