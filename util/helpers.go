package util

// Chunk splits a slice into consecutive slices of at most size elements. The
// returned slices share backing with the input.
func Chunk[T any](s []T, size int) [][]T {
	if size < 1 {
		return [][]T{s}
	}
	chunks := make([][]T, 0, (len(s)+size-1)/size)
	for size < len(s) {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}

// Contains checks if a slice contains a given value
func Contains[T comparable](s []T, v T) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}
