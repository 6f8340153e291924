package validate

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Reader applies the Require* accessors to a payload and keeps the first
// error. After an error every accessor returns the zero value, so a decoder
// can read all fields unconditionally and check Err once at the end.
//
// Readers returned by Map share the error with their parent and prefix keys
// with the parent key, e.g. `highlight.from`.
type Reader struct {
	payload Payload
	prefix  string
	state   *readerState
}

type readerState struct {
	err error
}

// NewReader returns a Reader over p.
func NewReader(p Payload) *Reader {
	return &Reader{payload: p, state: &readerState{}}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.state.err
}

func (r *Reader) failed() bool {
	return r.state.err != nil
}

func (r *Reader) fail(err error) {
	if r.state.err != nil {
		return
	}
	var fe *FieldError
	if r.prefix != "" && errors.As(err, &fe) {
		fe.Key = r.prefix + fe.Key
	}
	r.state.err = err
}

// String reads a required string.
func (r *Reader) String(key string) string {
	if r.failed() {
		return ""
	}
	s, err := RequireString(r.payload, key)
	if err != nil {
		r.fail(err)
	}
	return s
}

// OptionalString reads a free-text field, falling back to def.
func (r *Reader) OptionalString(key, def string) string {
	if r.failed() {
		return def
	}
	return StringOrDefault(r.payload, key, def)
}

// Int reads a required integral number.
func (r *Reader) Int(key string) int {
	if r.failed() {
		return 0
	}
	n, err := RequireInt(r.payload, key)
	if err != nil {
		r.fail(err)
	}
	return n
}

// Value reads a required value of any kind except null.
func (r *Reader) Value(key string) any {
	if r.failed() {
		return nil
	}
	v, err := RequireValue(r.payload, key)
	if err != nil {
		r.fail(err)
	}
	return v
}

// JSON reads a required value of any kind except null and re-encodes it.
func (r *Reader) JSON(key string) json.RawMessage {
	v := r.Value(key)
	if r.failed() {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		r.fail(&FieldError{Key: key, Expected: "JSON value", Got: KindOf(v), Err: ErrTypeMismatch})
		return nil
	}
	return raw
}

// Map reads a required object and returns a Reader over it.
func (r *Reader) Map(key string) *Reader {
	child := &Reader{prefix: r.prefix + key + ".", state: r.state}
	if r.failed() {
		return child
	}
	m, err := RequireMap(r.payload, key)
	if err != nil {
		r.fail(err)
		return child
	}
	child.payload = m
	return child
}

// Strings reads a required array of strings.
func (r *Reader) Strings(key string) []string {
	if r.failed() {
		return nil
	}
	list, err := RequireList(r.payload, key)
	if err != nil {
		r.fail(err)
		return nil
	}
	out := make([]string, 0, len(list))
	for i, v := range list {
		s, ok := v.(string)
		if !ok {
			r.fail(mismatch(fmt.Sprintf("%s[%d]", key, i), "string", v))
			return nil
		}
		out = append(out, s)
	}
	return out
}

// Ints reads a required array of integral numbers.
func (r *Reader) Ints(key string) []int {
	if r.failed() {
		return nil
	}
	list, err := RequireList(r.payload, key)
	if err != nil {
		r.fail(err)
		return nil
	}
	out := make([]int, 0, len(list))
	for i, v := range list {
		f, ok := toFloat(v)
		if !ok {
			r.fail(mismatch(fmt.Sprintf("%s[%d]", key, i), "number", v))
			return nil
		}
		n, ok := toInt(f)
		if !ok {
			r.fail(&FieldError{Key: fmt.Sprintf("%s[%d]", key, i), Expected: "integer", Got: "number", Err: ErrTypeMismatch})
			return nil
		}
		out = append(out, n)
	}
	return out
}
