package config

import "strings"

// reservedSegments are rejected anywhere in a dotted path.
var reservedSegments = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ParseConfigPath splits a dotted key such as "tools.weather.apiKey" into
// its segments.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		switch {
		case p == "":
			return nil, &ConfigError{Message: "config path contains empty segment"}
		case reservedSegments[p]:
			return nil, &ConfigError{Message: "config path contains blocked key: " + p}
		}
	}
	return parts, nil
}

// parent walks to the map holding the last segment of path. With create,
// missing or non-map intermediates are replaced by empty maps.
func parent(root map[string]any, path []string, create bool) (map[string]any, bool) {
	cur := root
	for _, key := range path[:len(path)-1] {
		next, ok := cur[key].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = map[string]any{}
			cur[key] = next
		}
		cur = next
	}
	return cur, true
}

// GetValueAtPath returns the value stored under path.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	if len(path) == 0 {
		return root, true
	}
	m, ok := parent(root, path, false)
	if !ok {
		return nil, false
	}
	v, ok := m[path[len(path)-1]]
	return v, ok
}

// SetValueAtPath stores value under path, creating intermediate maps.
func SetValueAtPath(root map[string]any, path []string, value any) {
	m, _ := parent(root, path, true)
	m[path[len(path)-1]] = value
}

// UnsetValueAtPath deletes the value under path and reports whether it
// existed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	m, ok := parent(root, path, false)
	if !ok {
		return false
	}
	last := path[len(path)-1]
	if _, ok := m[last]; !ok {
		return false
	}
	delete(m, last)
	return true
}
