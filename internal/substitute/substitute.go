// Package substitute implements the {{name}} placeholder templating shared by
// rule command lines, output paths and the viewer shell.
//
// Values are inserted verbatim. Command-line substitutions are not shell
// escaped: capture groups and path components come from the file system and
// are trusted the same way the configured command itself is.
package substitute

import (
	"path/filepath"
	"strings"
)

// Pair is a single placeholder binding.
type Pair struct {
	Key   string
	Value string
}

// Values is an ordered set of placeholder bindings. Replacement happens in
// slice order, one pass per key.
type Values []Pair

// Of builds Values from alternating key, value arguments. A trailing key
// without a value is ignored.
func Of(kv ...string) Values {
	v := make(Values, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		v = v.Set(kv[i], kv[i+1])
	}
	return v
}

// Set binds key to value. An existing key keeps its position and takes the
// new value, the way a later object spread overrides an earlier one.
func (v Values) Set(key, value string) Values {
	for i := range v {
		if v[i].Key == key {
			v[i].Value = value
			return v
		}
	}
	return append(v, Pair{Key: key, Value: value})
}

// Merge applies every binding of other on top of v.
func (v Values) Merge(other Values) Values {
	out := make(Values, len(v), len(v)+len(other))
	copy(out, v)
	for _, p := range other {
		out = out.Set(p.Key, p.Value)
	}
	return out
}

// Get returns the value bound to key.
func (v Values) Get(key string) (string, bool) {
	for _, p := range v {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Substitute replaces every literal {{key}} in text. Unknown placeholders are
// left untouched and the result is never rescanned as a whole, so a value
// that itself looks like a placeholder is only expanded by a later key.
func Substitute(text string, values Values) string {
	for _, p := range values {
		text = strings.ReplaceAll(text, "{{"+p.Key+"}}", p.Value)
	}
	return text
}

// separators are the characters PathValues splits on. A backslash is only a
// separator where the platform uses it.
const separators = "/" + string(filepath.Separator)

// PathValues splits path into root, dir, base, ext and name.
func PathValues(path string) Values {
	root := ""
	if strings.HasPrefix(path, "/") {
		root = "/"
	} else if vol := filepath.VolumeName(path); vol != "" {
		root = vol + string(filepath.Separator)
	}

	trimmed := strings.TrimRight(path, separators)
	if trimmed == "" {
		trimmed = path
	}

	dir, base := "", trimmed
	if i := strings.LastIndexAny(trimmed, separators); i >= 0 {
		base = trimmed[i+1:]
		dir = trimmed[:i]
		if dir == "" {
			dir = root
		}
	}

	ext := ""
	if i := strings.LastIndex(base, "."); i > 0 {
		ext = base[i:]
	}
	name := strings.TrimSuffix(base, ext)

	return Values{
		{Key: "root", Value: root},
		{Key: "dir", Value: dir},
		{Key: "base", Value: base},
		{Key: "ext", Value: ext},
		{Key: "name", Value: name},
	}
}
