// Package attrs reads values back out of variadic key-value attribute
// slices, the shape audit events and slog call sites carry them in.
package attrs

// ExtractString returns the string value following key in a
// [key1, value1, key2, value2, ...] slice. Missing keys and non-string
// values yield the empty string.
func ExtractString(kv []any, key string) string {
	for i := 0; i+1 < len(kv); i += 2 {
		name, ok := kv[i].(string)
		if !ok || name != key {
			continue
		}
		if v, ok := kv[i+1].(string); ok {
			return v
		}
	}
	return ""
}
