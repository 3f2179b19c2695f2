package odata

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/metadata"
)

// SerializeValue renders raw (a string form of the value) as an OData
// literal according to d365Type, the D365 XPP type. odataType is currently
// unused by the literal form itself (all D365 types map to a fixed OData
// syntax) but is accepted to mirror the source contract and to allow
// future per-EDM-type overrides without an API break.
func SerializeValue(raw string, d365Type metadata.XppType, odataType string) (string, error) {
	switch d365Type {
	case metadata.XppString, "":
		return quoteString(raw), nil
	case metadata.XppInt32, metadata.XppInt64:
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return "", apperrors.NewValidationError(fmt.Sprintf("value %q is not a valid %s", raw, d365Type))
		}
		return raw, nil
	case metadata.XppReal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return "", apperrors.NewValidationError(fmt.Sprintf("value %q is not a valid Real", raw))
		}
		return d.String(), nil
	case metadata.XppGuid:
		return raw, nil
	case metadata.XppDate:
		return raw, nil
	case metadata.XppTime:
		return raw, nil
	case metadata.XppUtcDateTime:
		return raw, nil
	case metadata.XppEnum:
		// raw is expected as "EnumType'Member'" or "EnumType:Member"; the
		// caller is responsible for supplying the member name, not the
		// numeric value — D365 keys encode enums by member.
		enumType, member, ok := splitEnumRaw(raw)
		if !ok {
			return "", apperrors.NewValidationError(fmt.Sprintf("enum value %q must be \"Type'Member'\" or \"Type:Member\"", raw))
		}
		return fmt.Sprintf("Microsoft.Dynamics.DataEntities.%s'%s'", enumType, member), nil
	case metadata.XppVoid, metadata.XppContainer, metadata.XppRecord:
		return "", apperrors.NewValidationError(fmt.Sprintf("type %s cannot appear in an entity key", d365Type))
	default:
		// Unknown types default to String quoting, matching the source's
		// behavior of treating unannotated fields as strings.
		return quoteString(raw), nil
	}
}

func splitEnumRaw(raw string) (enumType, member string, ok bool) {
	if i := strings.Index(raw, "'"); i >= 0 && strings.HasSuffix(raw, "'") && len(raw) > i+1 {
		return raw[:i], raw[i+1 : len(raw)-1], true
	}
	if i := strings.Index(raw, ":"); i >= 0 {
		return raw[:i], raw[i+1:], true
	}
	return "", "", false
}

func quoteString(raw string) string {
	return "'" + strings.ReplaceAll(raw, "'", "''") + "'"
}

// serializedField is one composite-key field after literal serialization.
type serializedField struct {
	Name    string
	Literal string
}

// serializeKeyFields applies SerializeValue to every field of fields using
// the field's type from schema, in the order schema's key properties list
// them; fields absent from the schema (or when schema is nil) keep the
// caller's original order and are treated as String.
func serializeKeyFields(fields []KeyField, schema *metadata.PublicEntity) ([]serializedField, error) {
	if len(fields) == 0 {
		return nil, apperrors.NewValidationError("composite key must not be empty")
	}

	order := fields
	if schema != nil {
		order = reorderBySchema(fields, schema)
	}

	out := make([]serializedField, 0, len(order))
	for _, f := range order {
		raw := fmt.Sprintf("%v", f.Value)
		if raw == "" {
			return nil, apperrors.NewValidationError(fmt.Sprintf("key field %q must not be empty", f.Name))
		}
		xppType := metadata.XppString
		if schema != nil {
			if prop, ok := schema.PropertyByName(f.Name); ok {
				xppType = prop.DataType
			}
		}
		lit, err := SerializeValue(raw, xppType, "")
		if err != nil {
			return nil, err
		}
		out = append(out, serializedField{Name: f.Name, Literal: lit})
	}
	return out, nil
}

// reorderBySchema returns fields reordered to match schema.KeyProperties();
// any caller field not named by the schema's key list is appended afterward
// in its original relative order, so nothing is silently dropped.
func reorderBySchema(fields []KeyField, schema *metadata.PublicEntity) []KeyField {
	byName := make(map[string]KeyField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	ordered := make([]KeyField, 0, len(fields))
	used := make(map[string]bool, len(fields))
	for _, kp := range schema.KeyProperties() {
		if f, ok := byName[kp.Name]; ok {
			ordered = append(ordered, f)
			used[kp.Name] = true
		}
	}
	for _, f := range fields {
		if !used[f.Name] {
			ordered = append(ordered, f)
		}
	}
	return ordered
}

// FormatCompositeKey renders "k1=lit1,k2=lit2,..." from an ordered
// composite key, applying schema-aware (or String-fallback) serialization.
func FormatCompositeKey(fields []KeyField, schema *metadata.PublicEntity) (string, error) {
	serialized, err := serializeKeyFields(fields, schema)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(serialized))
	for _, f := range serialized {
		parts = append(parts, fmt.Sprintf("%s=%s", f.Name, f.Literal))
	}
	return strings.Join(parts, ","), nil
}
