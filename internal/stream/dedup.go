package stream

// Dedup collapses records sharing a key, keeping the last occurrence. The
// survivors keep the relative order of their last occurrences.
func Dedup[T any](records []T, key func(T) string) []T {
	if len(records) < 2 {
		return records
	}
	seen := make(map[string]struct{}, len(records))
	out := make([]T, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		k := key(records[i])
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, records[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
