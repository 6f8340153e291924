// Package validate extracts typed fields from untyped JSON payloads.
//
// Payloads are the map[string]any values produced by encoding/json. Every
// accessor fails with a *FieldError wrapping either ErrMissingField or
// ErrTypeMismatch, and the error text stays compatible with older clients:
//
//	key "name": missing
//	key "name": expected string, got number
package validate

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMissingField is wrapped by field errors for absent or null keys.
	ErrMissingField = errors.New("missing field")
	// ErrTypeMismatch is wrapped by field errors for values of the wrong kind.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Payload is an untyped JSON object.
type Payload = map[string]any

// FieldError describes the first invalid field of a payload.
type FieldError struct {
	Key      string
	Expected string // empty when the key is missing
	Got      string
	Err      error
}

func (e *FieldError) Error() string {
	if e.Err == ErrMissingField {
		return fmt.Sprintf("key %q: missing", e.Key)
	}
	return fmt.Sprintf("key %q: expected %s, got %s", e.Key, e.Expected, e.Got)
}

func (e *FieldError) Unwrap() error { return e.Err }

func missing(key string) error {
	return &FieldError{Key: key, Err: ErrMissingField}
}

func mismatch(key, expected string, v any) error {
	return &FieldError{Key: key, Expected: expected, Got: KindOf(v), Err: ErrTypeMismatch}
}

// KindOf names the JSON kind of v.
func KindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int64, int32:
		return "number"
	case map[string]any:
		return "map"
	case []any:
		return "slice"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func lookup(p Payload, key string) (any, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, missing(key)
	}
	return v, nil
}

// RequireString returns the string stored under key.
func RequireString(p Payload, key string) (string, error) {
	v, err := lookup(p, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", mismatch(key, "string", v)
	}
	return s, nil
}

// RequireNumber returns the number stored under key.
func RequireNumber(p Payload, key string) (float64, error) {
	v, err := lookup(p, key)
	if err != nil {
		return 0, err
	}
	n, ok := toFloat(v)
	if !ok {
		return 0, mismatch(key, "number", v)
	}
	return n, nil
}

// RequireInt returns the number stored under key, which must be integral.
func RequireInt(p Payload, key string) (int, error) {
	n, err := RequireNumber(p, key)
	if err != nil {
		return 0, err
	}
	i, ok := toInt(n)
	if !ok {
		return 0, &FieldError{Key: key, Expected: "integer", Got: "number", Err: ErrTypeMismatch}
	}
	return i, nil
}

// RequireMap returns the object stored under key.
func RequireMap(p Payload, key string) (Payload, error) {
	v, err := lookup(p, key)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, mismatch(key, "map", v)
	}
	return m, nil
}

// RequireList returns the array stored under key.
func RequireList(p Payload, key string) ([]any, error) {
	v, err := lookup(p, key)
	if err != nil {
		return nil, err
	}
	l, ok := v.([]any)
	if !ok {
		return nil, mismatch(key, "slice", v)
	}
	return l, nil
}

// RequireValue returns the raw value stored under key, failing only when it
// is absent or null.
func RequireValue(p Payload, key string) (any, error) {
	return lookup(p, key)
}

// StringOrDefault returns the string stored under key, or def when the key is
// absent, null or not a string.
func StringOrDefault(p Payload, key, def string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return def
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func toInt(n float64) (int, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
		return 0, false
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0, false
	}
	return int(n), true
}
