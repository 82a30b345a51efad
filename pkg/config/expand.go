package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// variablePattern matches "${ key }" with optional surrounding whitespace.
// Go's compiled Regexp carries no matching state, so sharing one instance
// across expansions is safe.
var variablePattern = regexp.MustCompile(`\$\{\s*([^}]*?)\s*\}`)

// resolveVariables expands references between manifest variables. Keys are
// case-insensitive; a reference chain that revisits a key is rejected.
func resolveVariables(vars map[string]string) (map[string]string, error) {
	lower := make(map[string]string, len(vars))
	for k, v := range vars {
		lower[strings.ToLower(k)] = v
	}

	resolved := make(map[string]string, len(lower))
	var resolve func(key string, stack []string) (string, error)
	resolve = func(key string, stack []string) (string, error) {
		if v, ok := resolved[key]; ok {
			return v, nil
		}
		for _, s := range stack {
			if s == key {
				return "", fmt.Errorf("circular variable reference through %q", key)
			}
		}
		raw, ok := lower[key]
		if !ok {
			if v, ok := lookupEnv(key); ok {
				return v, nil
			}
			return "", fmt.Errorf("undefined variable %q", key)
		}
		stack = append(stack, key)
		var expandErr error
		out := variablePattern.ReplaceAllStringFunc(raw, func(m string) string {
			ref := strings.ToLower(strings.TrimSpace(variablePattern.FindStringSubmatch(m)[1]))
			v, err := resolve(ref, stack)
			if err != nil && expandErr == nil {
				expandErr = err
			}
			return v
		})
		if expandErr != nil {
			return "", expandErr
		}
		resolved[key] = out
		return out, nil
	}

	for k := range lower {
		if _, err := resolve(k, nil); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// Expand substitutes "${ key }" occurrences in s from vars (keys lowercased),
// falling back to the process environment. An unresolvable key is an error.
func Expand(s string, vars map[string]string) (string, error) {
	var expandErr error
	out := variablePattern.ReplaceAllStringFunc(s, func(m string) string {
		key := strings.TrimSpace(variablePattern.FindStringSubmatch(m)[1])
		if v, ok := vars[strings.ToLower(key)]; ok {
			return v
		}
		if v, ok := lookupEnv(key); ok {
			return v
		}
		if expandErr == nil {
			expandErr = fmt.Errorf("undefined variable %q", key)
		}
		return m
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

func lookupEnv(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	return os.LookupEnv(strings.ToUpper(key))
}

// expandTree walks a decoded JSON tree and expands every string value.
// Arrays keep their order; map values are replaced in place.
func expandTree(v any, vars map[string]string) (any, error) {
	switch t := v.(type) {
	case string:
		return Expand(t, vars)
	case map[string]any:
		for k, child := range t {
			expanded, err := expandTree(child, vars)
			if err != nil {
				return nil, err
			}
			t[k] = expanded
		}
		return t, nil
	case []any:
		for i, child := range t {
			expanded, err := expandTree(child, vars)
			if err != nil {
				return nil, err
			}
			t[i] = expanded
		}
		return t, nil
	default:
		return v, nil
	}
}
