package runner

import (
	"os"
	"sort"
	"strings"
)

// mergeEnv layers overrides ("K=V") over base and expands ${VAR} references in
// the override values against the composed environment. Expansion is single
// pass; unknown variables expand to the empty string.
func mergeEnv(base, overrides []string) []string {
	m := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	type pair struct{ k, v string }
	var pending []pair
	for _, kv := range overrides {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
			pending = append(pending, pair{k, v})
		}
	}
	for _, p := range pending {
		m[p.k] = os.Expand(p.v, func(name string) string {
			if name == p.k {
				return lookup(base, name)
			}
			return m[name]
		})
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// lookup returns the last value for key in a K=V list.
func lookup(list []string, key string) string {
	val := ""
	for _, kv := range list {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			val = v
		}
	}
	return val
}
