package schema

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Validate checks raw against n and returns the normalized value. Integers
// become int64, floats float64, booleans bool and every other scalar string.
// Objects become map[string]any and lists []any. The first mismatch stops
// validation and is reported as an *Error.
func Validate(n Node, raw any) (any, error) {
	return walk(n, raw, "", true)
}

// ValidateParams validates a top-level parameter object.
func ValidateParams(s Single, raw map[string]any) (map[string]any, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	v, err := walk(s, raw, "", true)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// Clean shapes an outbound value to n. Undeclared keys are dropped and
// scalars are converted rather than rejected; missing required keys still fail.
func Clean(n Node, v any) (any, error) {
	return walk(n, v, "", false)
}

func walk(n Node, v any, path string, strict bool) (any, error) {
	switch n := n.(type) {
	case Value:
		out, err := cleanScalar(n.Type, v, strict)
		if err != nil {
			return nil, &Error{Path: path, Reason: err.Error()}
		}
		return out, nil
	case Single:
		return walkSingle(n, v, path, strict)
	case Multiple:
		return walkMultiple(n, v, path, strict)
	}
	return nil, &Error{Path: path, Reason: fmt.Sprintf("unsupported description %T", n)}
}

func walkSingle(s Single, v any, path string, strict bool) (any, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, &Error{Path: path, Reason: "object expected"}
	}
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		fp := fieldPath(path, f.Name)
		fv, present := m[f.Name]
		if !present || fv == nil {
			switch f.Node.presence() {
			case Required:
				return nil, &Error{Path: fp, Reason: "missing required key"}
			case Optional:
				continue
			}
			def := f.Node.defaultValue()
			if def == nil {
				continue
			}
			cv, err := walk(f.Node, def, fp, false)
			if err != nil {
				return nil, err
			}
			out[f.Name] = cv
			continue
		}
		cv, err := walk(f.Node, fv, fp, strict)
		if err != nil {
			return nil, err
		}
		out[f.Name] = cv
	}
	if strict {
		var extra []string
		for k := range m {
			if !slices.ContainsFunc(s.Fields, func(f Field) bool { return f.Name == k }) {
				extra = append(extra, k)
			}
		}
		if len(extra) > 0 {
			slices.Sort(extra)
			return nil, &Error{Path: path, Reason: "unexpected keys: " + strings.Join(extra, ", ")}
		}
	}
	return out, nil
}

func walkMultiple(l Multiple, v any, path string, strict bool) (any, error) {
	items, ok := asSlice(v)
	if !ok {
		return nil, &Error{Path: path, Reason: "list expected"}
	}
	out := make([]any, 0, len(items))
	for i, item := range items {
		ip := indexPath(path, i)
		if item == nil {
			return nil, &Error{Path: ip, Reason: "null item"}
		}
		cv, err := walk(l.Item, item, ip, strict)
		if err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, nil
}

func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	m := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, true
}

func asSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	s := make([]any, rv.Len())
	for i := range s {
		s[i] = rv.Index(i).Interface()
	}
	return s, true
}
