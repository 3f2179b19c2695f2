package odata

import "strings"

// KeyField is one field=value pair of a composite entity key. A slice of
// KeyField (rather than a map) is used throughout this package so that
// caller-supplied field order is preserved when no schema is available —
// Go maps have no defined iteration order, and the fallback ordering when
// a schema is absent is the caller's insertion order, never alphabetical.
type KeyField struct {
	Name  string
	Value any
}

// Key is either a scalar value or an ordered composite key.
type Key struct {
	scalar    *string
	composite []KeyField
}

// ScalarKey builds a simple, single-value entity key.
func ScalarKey(value string) Key {
	return Key{scalar: &value}
}

// CompositeKey builds a multi-field entity key. Field order is preserved
// exactly as given; callers building from an ordered source (JSON object,
// user input) should supply fields in that same order.
func CompositeKey(fields ...KeyField) Key {
	return Key{composite: fields}
}

// IsZero reports whether the key carries no value at all.
func (k Key) IsZero() bool {
	return k.scalar == nil && k.composite == nil
}

// IsComposite reports whether the key is a field map rather than a scalar.
func (k Key) IsComposite() bool {
	return k.composite != nil
}

// Scalar returns the scalar value and true, or ("", false) for a composite key.
func (k Key) Scalar() (string, bool) {
	if k.scalar == nil {
		return "", false
	}
	return *k.scalar, true
}

// Fields returns the ordered composite fields, or nil for a scalar key.
func (k Key) Fields() []KeyField {
	return k.composite
}

// HasDataAreaID reports whether any composite field name equals "dataAreaId"
// case-insensitively. Scalar keys never carry dataAreaId.
func (k Key) HasDataAreaID() bool {
	for _, f := range k.composite {
		if strings.EqualFold(f.Name, "dataAreaId") {
			return true
		}
	}
	return false
}
