package codec

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Wire tag distinguishing values that plain JSON cannot carry. A tagged
// value is a two-key object: {tagKey: <kind>, "value": <encoding>}.
const (
	tagKey      = "__cascade_type__"
	tagDatetime = "datetime"
	tagBytes    = "bytes"
)

// Encode serializes a value into canonical tagged JSON.
func Encode(v any) (string, error) {
	wrapped, err := Wrap(v)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(wrapped)
	if err != nil {
		return "", fmt.Errorf("cannot serialize value: %w", err)
	}
	return string(data), nil
}

// Decode restores a value encoded by Encode. Datetimes come back as
// time.Time, byte strings as []byte, integral numbers as int64 and
// fractional numbers as float64. Map keys are always strings.
func Decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("cannot decode value: %w", err)
	}
	return Unwrap(raw)
}

// Wrap converts an arbitrary value tree into a JSON-encodable tree,
// tagging datetimes and byte strings and coercing map keys to strings.
// Values with no canonical representation fail with an error.
func Wrap(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case float32:
		return wrapFloat(float64(val))
	case float64:
		return wrapFloat(val)
	case time.Time:
		return map[string]any{
			tagKey:  tagDatetime,
			"value": val.UTC().Format(time.RFC3339Nano),
		}, nil
	case []byte:
		return map[string]any{
			tagKey:  tagBytes,
			"value": base64.StdEncoding.EncodeToString(val),
		}, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			wrapped, err := Wrap(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = wrapped
		}
		return out, nil
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(iter.Key().Interface())
			if key == tagKey {
				return nil, fmt.Errorf("cannot serialize map with reserved key %q", tagKey)
			}
			wrapped, err := Wrap(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[key] = wrapped
		}
		return out, nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Wrap(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("cannot serialize value of type %T", v)
}

func wrapFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("cannot serialize non-finite float %v", f)
	}
	return f, nil
}

// Unwrap converts a decoded JSON tree back into its original value tree,
// restoring tagged datetimes and byte strings.
func Unwrap(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot decode number %q: %w", val.String(), err)
		}
		return f, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			unwrapped, err := Unwrap(item)
			if err != nil {
				return nil, err
			}
			out[i] = unwrapped
		}
		return out, nil
	case map[string]any:
		if kind, ok := val[tagKey].(string); ok && len(val) == 2 {
			return untag(kind, val["value"])
		}
		out := make(map[string]any, len(val))
		for key, item := range val {
			unwrapped, err := Unwrap(item)
			if err != nil {
				return nil, err
			}
			out[key] = unwrapped
		}
		return out, nil
	}
	return v, nil
}

func untag(kind string, raw any) (any, error) {
	text, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("malformed %s tag: value is %T, not string", kind, raw)
	}
	switch kind {
	case tagDatetime:
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return nil, fmt.Errorf("malformed datetime tag: %w", err)
		}
		return t, nil
	case tagBytes:
		data, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, fmt.Errorf("malformed bytes tag: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("unknown type tag %q", kind)
}
