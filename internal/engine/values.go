package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"exoweb/internal/model"
)

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

// ParseDate accepts RFC 3339 timestamps and plain dates.
func ParseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not a date", model.ErrWrongType, s)
}

// CoerceValue converts a decoded scalar, as produced by JSON or YAML
// decoding, to the Go type a property of value type vt holds. Entity
// references are left to the caller.
func CoerceValue(vt model.ValueType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if n, ok := v.(json.Number); ok {
		if vt == model.Integer {
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: %s is not an integer", model.ErrWrongType, n)
			}
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a number", model.ErrWrongType, n)
		}
		v = f
	}

	switch vt {
	case model.Integer:
		switch x := v.(type) {
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("%w: %v is not an integer", model.ErrWrongType, x)
			}
			return int(x), nil
		case int64:
			return int(x), nil
		case int:
			return x, nil
		}
	case model.Number:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float64:
			return x, nil
		}
	case model.Date:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return ParseDate(strings.TrimSpace(x))
		}
	case model.Boolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("%w: cannot use %T as %s", model.ErrWrongType, v, vt)
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x == math.Trunc(x) {
			return int(x), nil
		}
	}
	return 0, fmt.Errorf("%w: %v is not an integer", model.ErrWrongType, v)
}
