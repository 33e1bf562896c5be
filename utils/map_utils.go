package utils

// CloneMap returns a shallow copy, a nil map clones to an empty one.
func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	c := make(map[K]V, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// UniqueSlice drops repeated elements keeping first occurrences in order. a is not modified.
func UniqueSlice[K comparable](a []K) []K {
	seen := make(map[K]struct{}, len(a))
	out := make([]K, 0, len(a))
	for _, v := range a {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
