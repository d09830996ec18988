package store

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Normalize returns a deep copy of f with every value passed through
// encoding/json.
func Normalize(f Fields) (Fields, error) {
	if f == nil {
		return Fields{}, nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	out := Fields{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyPut computes the stored fields after a Put. cur is nil when the
// document does not exist.
func ApplyPut(cur, in Fields, merge bool) (Fields, error) {
	in, err := Normalize(in)
	if err != nil {
		return nil, err
	}
	if !merge || cur == nil {
		return in, nil
	}
	out := make(Fields, len(cur)+len(in))
	for k, v := range cur {
		out[k] = v
	}
	for k, v := range in {
		out[k] = v
	}
	return out, nil
}

// ApplyIncrement adds delta to field in a copy of cur.
func ApplyIncrement(cur Fields, field string, delta float64) (Fields, error) {
	out := copyFields(cur)
	var n float64
	switch v := out[field].(type) {
	case nil:
	case float64:
		n = v
	default:
		return nil, fmt.Errorf("%w: %s is %T", ErrNotNumeric, field, v)
	}
	out[field] = n + delta
	return out, nil
}

// ApplyAppend adds value to the array field in a copy of cur. changed is
// false when an equal element was already present.
func ApplyAppend(cur Fields, field string, value any) (out Fields, changed bool, err error) {
	v, err := normalizeValue(value)
	if err != nil {
		return nil, false, err
	}
	out = copyFields(cur)
	var arr []any
	switch existing := out[field].(type) {
	case nil:
	case []any:
		arr = existing
	default:
		return nil, false, fmt.Errorf("%w: %s is %T", ErrNotSet, field, existing)
	}
	for _, e := range arr {
		if reflect.DeepEqual(e, v) {
			return out, false, nil
		}
	}
	next := make([]any, len(arr), len(arr)+1)
	copy(next, arr)
	out[field] = append(next, v)
	return out, true, nil
}

func copyFields(f Fields) Fields {
	out := make(Fields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}
