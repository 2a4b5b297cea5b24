// Package nullable implements the three-state JSON field used by
// update_profile's partial-update semantics: a field can be absent (leave
// unchanged), explicitly null (clear), or present with a value (set).
package nullable

import (
	"bytes"
	"encoding/json"
)

var jsonNull = []byte("null")

// Nullable distinguishes "absent from the request" from "present and
// explicitly null" from "present with a value."
type Nullable[T any] struct {
	Value T
	IsSet bool
	// IsNull is only meaningful when IsSet is true.
	IsNull bool
}

// Set builds a Nullable carrying v.
func Set[T any](v T) Nullable[T] {
	return Nullable[T]{Value: v, IsSet: true}
}

// Null builds a Nullable representing an explicit null.
func Null[T any]() Nullable[T] {
	var zero T
	return Nullable[T]{Value: zero, IsSet: true, IsNull: true}
}

// Unset builds a Nullable representing an absent field.
func Unset[T any]() Nullable[T] {
	return Nullable[T]{}
}

// ShouldUpdate reports whether the field was present in the request at all
// (null or a value), i.e. whether the stored value should change.
func (n Nullable[T]) ShouldUpdate() bool {
	return n.IsSet
}

// ShouldSetNull reports whether the field was present and explicitly null.
func (n Nullable[T]) ShouldSetNull() bool {
	return n.IsSet && n.IsNull
}

// Get returns (value, true) when a non-null value was present, else
// (zero, false).
func (n Nullable[T]) Get() (T, bool) {
	if n.IsSet && !n.IsNull {
		return n.Value, true
	}

	var zero T

	return zero, false
}

// GetOrDefault returns the carried value if present and non-null, else def.
func (n Nullable[T]) GetOrDefault(def T) T {
	if v, ok := n.Get(); ok {
		return v
	}

	return def
}

// ToPointer returns &Value when present and non-null, else nil.
func (n Nullable[T]) ToPointer() *T {
	if v, ok := n.Get(); ok {
		return &v
	}

	return nil
}

// UnmarshalJSON implements the absent/null/value distinction: this method is
// only invoked by encoding/json when the key IS present in the payload, so
// IsSet defaults to false and is only flipped here.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.IsSet = true

	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		n.IsNull = true

		var zero T
		n.Value = zero

		return nil
	}

	return json.Unmarshal(data, &n.Value)
}

// MarshalJSON round-trips unset as omitted-looking null and null/value as
// their JSON forms; callers that need true omission on absent should pair
// the field with `json:",omitempty"` plus a pointer wrapper at the DTO
// boundary, since Nullable itself has no "absent" JSON representation.
func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.IsSet || n.IsNull {
		return jsonNull, nil
	}

	return json.Marshal(n.Value)
}
