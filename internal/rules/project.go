// Package rules implements the Relationship Rule Engine (SPEC_FULL.md
// §4.5/§4.5.1): declarative rules that project (src, dst, properties)
// relationship tuples out of an aspect payload whenever that aspect is
// written. Grounded on bittoy-rule's declarative rule-chain engine
// (engine/rule_context.go resolving a node's configured path against the
// in-flight message), generalized from a general-purpose message-routing
// DSL down to the catalog's fixed projection shape: extract a source,
// extract zero or more destinations, extract properties per destination.
package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// projectOne resolves a single, non-fan-out dot path against data. Path
// segments are plain map keys or numeric array indices in "[n]" form; an
// empty path returns data itself.
func projectOne(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	cur := data
	for _, seg := range splitPath(path) {
		if seg.index != nil {
			arr, ok := cur.([]any)
			if !ok || *seg.index < 0 || *seg.index >= len(arr) {
				return nil, false
			}
			cur = arr[*seg.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg.name]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// projectMany resolves a path containing exactly one fan-out segment
// ("[]" or "[*]") into the list of values the remainder of the path
// produces, one per array element. A path with no fan-out segment
// resolves to a single-element list via projectOne.
func projectMany(data any, path string) ([]any, error) {
	prefix, fanOut, suffix, hasFanOut := splitFanOut(path)
	if !hasFanOut {
		v, ok := projectOne(data, path)
		if !ok {
			return nil, fmt.Errorf("rules: path %q did not resolve", path)
		}
		return []any{v}, nil
	}

	base, ok := projectOne(data, prefix)
	if !ok {
		return nil, fmt.Errorf("rules: fan-out path %q: prefix %q did not resolve", path, prefix)
	}
	arr, ok := base.([]any)
	if !ok {
		return nil, fmt.Errorf("rules: fan-out path %q: %q is not an array", path, fanOut)
	}

	out := make([]any, 0, len(arr))
	for _, el := range arr {
		if suffix == "" {
			out = append(out, el)
			continue
		}
		v, ok := projectOne(el, suffix)
		if !ok {
			continue // element doesn't have the suffix field: skip, don't fail the whole projection
		}
		out = append(out, v)
	}
	return out, nil
}

type pathSeg struct {
	name  string
	index *int
}

func splitPath(path string) []pathSeg {
	var segs []pathSeg
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		name := part
		for {
			open := strings.IndexByte(name, '[')
			if open < 0 {
				if name != "" {
					segs = append(segs, pathSeg{name: name})
				}
				break
			}
			if open > 0 {
				segs = append(segs, pathSeg{name: name[:open]})
			}
			close := strings.IndexByte(name[open:], ']')
			if close < 0 {
				break
			}
			idxStr := name[open+1 : open+close]
			if n, err := strconv.Atoi(idxStr); err == nil {
				segs = append(segs, pathSeg{index: &n})
			}
			name = name[open+close+1:]
			if name == "" {
				break
			}
		}
	}
	return segs
}

// projectElem resolves a per-destination path: a fan-out path such as
// "upstreams[].platform" resolves its suffix against the current fan-out
// element; any other path is tried against the element first, then
// against the full payload.
func projectElem(elem any, payload map[string]any, path string) (any, bool) {
	if _, _, suffix, ok := splitFanOut(path); ok {
		return projectOne(elem, suffix)
	}
	if v, ok := projectOne(elem, path); ok {
		return v, true
	}
	return projectOne(payload, path)
}

// splitFanOut splits path into the part before a "[]"/"[*]" marker, the
// marker itself, and the part after, e.g.
// "fineGrainedLineages[].upstreams" -> ("fineGrainedLineages", "[]", "upstreams", true).
func splitFanOut(path string) (prefix, marker, suffix string, ok bool) {
	for _, m := range []string{"[]", "[*]"} {
		if idx := strings.Index(path, m); idx >= 0 {
			prefix = strings.TrimSuffix(path[:idx], ".")
			rest := path[idx+len(m):]
			suffix = strings.TrimPrefix(rest, ".")
			return prefix, m, suffix, true
		}
	}
	return "", "", "", false
}

// asString coerces a projected value to a string for use as a URN
// fragment or discriminator component.
func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case fmt.Stringer:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	case nil:
		return "", false
	default:
		return fmt.Sprintf("%v", t), true
	}
}
