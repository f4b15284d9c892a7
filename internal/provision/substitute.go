package provision

import (
	"fmt"
	"strings"

	"github.com/HerbHall/ztpserver/pkg/models"
)

// unset marks a $variable that no scope defines. It never leaves this
// package; emit converts it to nil.
type unset struct{}

// scopes are searched in order; the first one that defines a name wins.
type scopes []map[string]any

func (s scopes) lookup(name string) any {
	for _, m := range s {
		if v, ok := m[name]; ok {
			return v
		}
	}
	return unset{}
}

// substituteActions replaces "$name" attribute values, flat and one
// nested mapping deep. Replacement values are not substituted again.
// It returns the names that resolved to nothing.
func substituteActions(actions []models.Action, s scopes) []string {
	var missing []string
	sub := func(v any) any {
		str, ok := v.(string)
		if !ok || !strings.HasPrefix(str, "$") {
			return v
		}
		r := s.lookup(str[1:])
		if _, miss := r.(unset); miss {
			missing = append(missing, str[1:])
			return nil
		}
		return stringKeys(r)
	}

	for i := range actions {
		attrs := actions[i].Attributes
		if attrs == nil {
			continue
		}
		out := make(map[string]any, len(attrs))
		for k, v := range attrs {
			v = stringKeys(v)
			if nested, ok := v.(map[string]any); ok {
				inner := make(map[string]any, len(nested))
				for nk, nv := range nested {
					inner[nk] = sub(nv)
				}
				out[k] = inner
				continue
			}
			out[k] = sub(v)
		}
		actions[i].Attributes = out
	}
	return missing
}

// stringKeys copies v with every map[any]any (what yaml.v3 produces for a
// mapping with a non-string key, e.g. VLAN ids) turned into map[string]any,
// at any depth, so the value encodes as JSON.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = stringKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stringKeys(val)
		}
		return out
	default:
		return v
	}
}
