// Package ptr provides small helpers for taking the address of a value,
// useful for optional fields in DTOs and config structs.
package ptr

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

// Int returns a pointer to a copy of i.
func Int(i int) *int {
	return &i
}

// Int64 returns a pointer to a copy of i.
func Int64(i int64) *int64 {
	return &i
}

// Bool returns a pointer to a copy of b.
func Bool(b bool) *bool {
	return &b
}

// Of returns a pointer to a copy of v, for any type.
func Of[T any](v T) *T {
	return &v
}
