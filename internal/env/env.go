// Package env composes child environments and expands ${VAR} placeholders in
// configured command lines.
package env

import (
	"os"
	"strings"
)

// Vars maps placeholder names to values.
type Vars map[string]string

// FromOS returns the current process environment as Vars.
func FromOS() Vars {
	return parse(os.Environ())
}

// With returns a copy of v with k set to val.
func (v Vars) With(k, val string) Vars {
	out := make(Vars, len(v)+1)
	for key, x := range v {
		out[key] = x
	}
	if k != "" {
		out[k] = val
	}
	return out
}

// Merge applies overrides ("K=V") on top of base, later entries winning and
// first-seen order preserved. Malformed entries are dropped.
func Merge(base, overrides []string) []string {
	idx := make(map[string]int, len(base))
	out := make([]string, 0, len(base)+len(overrides))
	for _, list := range [][]string{base, overrides} {
		for _, kv := range list {
			k, _, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				continue
			}
			if i, seen := idx[k]; seen {
				out[i] = kv
				continue
			}
			idx[k] = len(out)
			out = append(out, kv)
		}
	}
	return out
}

// Expand replaces ${NAME} with vars[NAME]. Unknown names are left as they
// are; there is no recursion.
func Expand(s string, vars Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := vars[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}

// ExpandAll expands every element of args.
func ExpandAll(args []string, vars Vars) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Expand(a, vars)
	}
	return out
}

func parse(kvs []string) Vars {
	m := make(Vars, len(kvs))
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			m[k] = v
		}
	}
	return m
}
