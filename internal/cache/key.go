package cache

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
)

// ComputeKey generates the fingerprint of a request from its path and parameters.
// Format: <path>:<params>, where params is JSON with object keys sorted at every
// depth. No parameters yields "<path>:".
func ComputeKey(path string, params map[string]any) string {
	if len(params) == 0 {
		return path + ":"
	}

	canonical, err := canonicalize(params)
	if err != nil {
		// fmt prints maps with sorted keys too
		return path + ":" + fmt.Sprint(params)
	}
	return path + ":" + string(canonical)
}

// ParamsFromQuery converts URL query values into key parameters.
// Single values become strings, repeated values become lists.
func ParamsFromQuery(query url.Values) map[string]any {
	if len(query) == 0 {
		return nil
	}

	params := make(map[string]any, len(query))
	for name, values := range query {
		if len(values) == 1 {
			params[name] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		params[name] = list
	}
	return params
}

func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	out := []byte{'{'}
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		nameBytes, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		out = append(out, nameBytes...)
		out = append(out, ':')

		valBytes, err := canonicalize(m[name])
		if err != nil {
			return nil, err
		}
		out = append(out, valBytes...)
	}
	return append(out, '}'), nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	out := []byte{'['}
	for i, v := range s {
		if i > 0 {
			out = append(out, ',')
		}
		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		out = append(out, valBytes...)
	}
	return append(out, ']'), nil
}
