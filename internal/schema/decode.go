package schema

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Decode copies normalized parameters into out, a pointer to a struct with
// mapstructure tags. Optional parameters should map to pointer fields so that
// absence stays distinguishable from a zero value.
func Decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// ReadJSON decodes a JSON object keeping numbers as json.Number so that
// integer parameters are not rounded through float64.
func ReadJSON(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("decode JSON body: %w", err)
	}
	return m, nil
}

// FromForm converts form values written in bracket notation, such as
// "course[fullname]" or "moduleinfo[0][section][number]", into nested
// objects. Objects whose keys are all indexes become lists ordered by index.
func FromForm(values url.Values) map[string]any {
	root := map[string]any{}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		vs := values[k]
		if len(vs) == 0 {
			continue
		}
		parts := splitFormKey(k)
		if len(parts) == 0 {
			continue
		}
		setFormValue(root, parts, vs)
	}
	if m, ok := listify(root).(map[string]any); ok {
		return m
	}
	return root
}

func splitFormKey(k string) []string {
	i := strings.IndexByte(k, '[')
	if i < 0 {
		return []string{k}
	}
	parts := []string{k[:i]}
	rest := k[i:]
	for len(rest) > 0 && rest[0] == '[' {
		j := strings.IndexByte(rest, ']')
		if j < 0 {
			break
		}
		parts = append(parts, rest[1:j])
		rest = rest[j+1:]
	}
	return parts
}

func setFormValue(m map[string]any, parts []string, vs []string) {
	name := parts[0]
	if len(parts) == 1 {
		m[name] = vs[len(vs)-1]
		return
	}
	if len(parts) == 2 && parts[1] == "" {
		child, _ := m[name].(map[string]any)
		if child == nil {
			child = map[string]any{}
			m[name] = child
		}
		for _, v := range vs {
			child[strconv.Itoa(len(child))] = v
		}
		return
	}
	child, _ := m[name].(map[string]any)
	if child == nil {
		child = map[string]any{}
		m[name] = child
	}
	setFormValue(child, parts[1:], vs)
}

func listify(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = listify(child)
	}
	if len(m) == 0 {
		return m
	}
	idx := make([]int, 0, len(m))
	for k := range m {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 || strconv.Itoa(n) != k {
			return m
		}
		idx = append(idx, n)
	}
	slices.Sort(idx)
	list := make([]any, 0, len(idx))
	for _, n := range idx {
		list = append(list, m[strconv.Itoa(n)])
	}
	return list
}
