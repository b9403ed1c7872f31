package config

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrInvalid = errors.New("invalid config")

// Values is a string-keyed config sub-tree as decoded from TOML or JSON.
// Numbers may arrive as int, int64 or float64 depending on the decoder.
type Values map[string]any

// Clone deep-copies nested maps and slices.
func (v Values) Clone() Values {
	if v == nil {
		return nil
	}
	out := make(Values, len(v))
	for key, value := range v {
		out[key] = cloneValue(value)
	}
	return out
}

// Merge returns a copy of base with override's keys layered on top. Nested
// maps are merged recursively.
func Merge(base, override Values) Values {
	out := base.Clone()
	if out == nil {
		out = Values{}
	}
	for key, value := range override {
		if sub, ok := asValues(value); ok {
			if baseSub, ok := asValues(out[key]); ok {
				out[key] = Merge(baseSub, sub)
				continue
			}
		}
		out[key] = cloneValue(value)
	}
	return out
}

func (v Values) Has(key string) bool {
	_, ok := v[key]
	return ok
}

func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (v Values) String(key, def string) (string, error) {
	raw, ok := v[key]
	if !ok {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalid, key, raw)
	}
	return s, nil
}

func (v Values) Bool(key string, def bool) (bool, error) {
	raw, ok := v[key]
	if !ok {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a bool, got %T", ErrInvalid, key, raw)
	}
	return b, nil
}

func (v Values) Int(key string, def int) (int, error) {
	raw, ok := v[key]
	if !ok {
		return def, nil
	}
	n, ok := asInt(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalid, key, raw)
	}
	return n, nil
}

func (v Values) Float(key string, def float64) (float64, error) {
	raw, ok := v[key]
	if !ok {
		return def, nil
	}
	f, ok := asFloat64(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalid, key, raw)
	}
	return f, nil
}

func (v Values) Floats(key string, def []float64) ([]float64, error) {
	raw, ok := v[key]
	if !ok {
		return def, nil
	}
	switch x := raw.(type) {
	case []float64:
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	case []any:
		out := make([]float64, len(x))
		for i, item := range x {
			f, ok := asFloat64(item)
			if !ok {
				return nil, fmt.Errorf("%w: %s[%d] must be a number, got %T", ErrInvalid, key, i, item)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a list of numbers, got %T", ErrInvalid, key, raw)
	}
}

// Sub returns the nested sub-tree at key, or def when the key is absent.
func (v Values) Sub(key string, def Values) (Values, error) {
	raw, ok := v[key]
	if !ok {
		return def.Clone(), nil
	}
	sub, ok := asValues(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a table, got %T", ErrInvalid, key, raw)
	}
	return sub.Clone(), nil
}

func asValues(v any) (Values, bool) {
	switch x := v.(type) {
	case Values:
		return x, true
	case map[string]any:
		return Values(x), true
	default:
		return nil, false
	}
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	default:
		return 0, false
	}
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Values:
		return x.Clone()
	case map[string]any:
		return Values(x).Clone()
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case []float64:
		out := make([]float64, len(x))
		copy(out, x)
		return out
	default:
		return v
	}
}
