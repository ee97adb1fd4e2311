package starlark

import (
	"fmt"

	"go.starlark.net/starlark"
)

// GoToStarlark converts a Go value to a Starlark value.
// Supported types: string, int, int64, float64, bool, []string,
// []any, map[string]any, and nil.
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string:
		return starlark.String(val), nil

	case int:
		return starlark.MakeInt(val), nil

	case int64:
		return starlark.MakeInt64(val), nil

	case float64:
		return starlark.Float(val), nil

	case bool:
		return starlark.Bool(val), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case []map[string]any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(map[string]any(item))
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64, float64, bool, []any, map[string]any, or nil.
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			// Very large integers fall back to their string form.
			return val.String(), nil
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case *starlark.List:
		out := make([]any, 0, val.Len())
		it := val.Iterate()
		defer it.Done()
		var item starlark.Value
		for it.Next(&item) {
			gv, err := ToGo(item)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil

	case starlark.Tuple:
		out := make([]any, 0, len(val))
		for _, item := range val {
			gv, err := ToGo(item)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil

	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, k := range val.Keys() {
			key, ok := k.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("non-string dict key: %s", k.String())
			}
			item, _, err := val.Get(k)
			if err != nil {
				return nil, err
			}
			gv, err := ToGo(item)
			if err != nil {
				return nil, err
			}
			out[string(key)] = gv
		}
		return out, nil

	default:
		return nil, fmt.Errorf("cannot persist value of type %s", v.Type())
	}
}

// DictToRow converts a Starlark dict into a parameter row.
func DictToRow(d *starlark.Dict) (map[string]any, []string, error) {
	row := make(map[string]any, d.Len())
	cols := make([]string, 0, d.Len())
	for _, k := range d.Keys() {
		key, ok := k.(starlark.String)
		if !ok {
			return nil, nil, fmt.Errorf("non-string parameter column: %s", k.String())
		}
		item, _, err := d.Get(k)
		if err != nil {
			return nil, nil, err
		}
		gv, err := ToGo(item)
		if err != nil {
			return nil, nil, err
		}
		row[string(key)] = gv
		cols = append(cols, string(key))
	}
	return row, cols, nil
}
