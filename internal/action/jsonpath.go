package action

import (
	"strconv"
	"strings"
)

// Extract walks a decoded JSON value along a dot path. The path may start
// with "$." and array elements are addressed by numeric segments, either
// as "items.0.name" or "items[0].name". An empty path or "$" selects the
// whole value.
func Extract(v any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return v, true
	}
	path = strings.NewReplacer("[", ".", "]", "").Replace(path)

	cur := v
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
