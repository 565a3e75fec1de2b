package syncengine

import (
	"sort"
	"strings"
)

// Merge deep-merges overlay onto base and returns a new map. Objects merge
// into objects recursively; arrays and scalars overwrite. Neither input is
// mutated.
func Merge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		ov, overlayIsMap := v.(map[string]any)
		bv, baseIsMap := out[k].(map[string]any)
		if overlayIsMap && baseIsMap {
			out[k] = Merge(bv, ov)
			continue
		}
		out[k] = v
	}
	return out
}

// TouchedSections walks an update payload and returns every dotted path it
// touches, at every nesting level, sorted. An update to
// {"work_breakdown_structure": {"4.0": {"status": "completed"}}} touches
// "work_breakdown_structure", "work_breakdown_structure.4.0", and
// "work_breakdown_structure.4.0.status".
func TouchedSections(updates map[string]any) []string {
	seen := make(map[string]bool)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			seen[path] = true
			if child, ok := v.(map[string]any); ok {
				walk(path, child)
			}
		}
	}
	walk("", updates)

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SectionMatches reports whether a view's declared dependency section is
// affected by a touched path: exact match, or the section is an ancestor
// of the path, or the path is an ancestor of the section.
func SectionMatches(section, touched string) bool {
	if section == touched {
		return true
	}
	if strings.HasPrefix(touched, section+".") {
		return true
	}
	return strings.HasPrefix(section, touched+".")
}
