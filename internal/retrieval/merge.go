package retrieval

// MergeRanked concatenates the given ordered lists and deduplicates them by
// key, first occurrence wins. Lists passed earlier therefore shadow later
// ones, and order within a list is preserved.
func MergeRanked[T any](key func(T) string, lists ...[]T) []T {
	seen := make(map[string]struct{})
	var merged []T
	for _, list := range lists {
		for _, item := range list {
			k := key(item)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			merged = append(merged, item)
		}
	}
	return merged
}
