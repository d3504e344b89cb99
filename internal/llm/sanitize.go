package llm

import (
	"maps"
	"slices"
)

// DropNulls removes null members from m in place, recursing into nested
// objects and arrays, and returns the dotted paths it removed. Null array
// elements are dropped too.
func DropNulls(m map[string]any) []string {
	var dropped []string
	dropNulls(m, "", &dropped)
	slices.Sort(dropped)
	return dropped
}

func dropNulls(m map[string]any, prefix string, dropped *[]string) {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		path := prefix + k
		switch t := m[k].(type) {
		case nil:
			delete(m, k)
			*dropped = append(*dropped, path)
		case map[string]any:
			dropNulls(t, path+".", dropped)
		case []any:
			m[k] = dropNullElems(t, path, dropped)
		}
	}
}

func dropNullElems(in []any, path string, dropped *[]string) []any {
	out := in[:0]
	for _, e := range in {
		switch t := e.(type) {
		case nil:
			*dropped = append(*dropped, path+"[]")
			continue
		case map[string]any:
			dropNulls(t, path+"[].", dropped)
		case []any:
			e = dropNullElems(t, path+"[]", dropped)
		}
		out = append(out, e)
	}
	return out
}
