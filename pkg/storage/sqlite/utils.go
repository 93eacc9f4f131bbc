package sqlite

// buildWhereClause narrows a scan by the indexed category column.
//
// Other filter keys live inside the JSON metadata and are checked after decoding.
func buildWhereClause(filters map[string]string) (string, []interface{}) {
	category, ok := filters["category"]
	if !ok {
		return "", nil
	}
	return "WHERE category = ?", []interface{}{category}
}
