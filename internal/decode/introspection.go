package decode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// interfaceNamePattern matches a dot-separated Java-style interface name:
// ^[a-zA-Z]+(\.[a-zA-Z0-9]+)*$
var interfaceNamePattern = regexp.MustCompile(`^[a-zA-Z]+(\.[a-zA-Z0-9]+)*$`)

// IntrospectionEntry is a single `name:major:minor` token.
type IntrospectionEntry struct {
	Name  string
	Major int
	Minor int
}

// ParseIntrospection parses a semicolon-delimited `name:major:minor[;...]`
// introspection payload. The payload must be valid UTF-8; every name must
// match interfaceNamePattern and both versions must be non-negative
// integers.
func ParseIntrospection(payload []byte) ([]IntrospectionEntry, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("invalid_introspection: payload is not valid UTF-8")
	}
	s := string(payload)
	if s == "" {
		return nil, nil
	}

	tokens := strings.Split(s, ";")
	entries := make([]IntrospectionEntry, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		parts := strings.Split(token, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid_introspection: malformed token %q", token)
		}
		name, majorStr, minorStr := parts[0], parts[1], parts[2]
		if !interfaceNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid_introspection: invalid interface name %q", name)
		}
		major, err := parseNonNegativeInt(majorStr)
		if err != nil {
			return nil, fmt.Errorf("invalid_introspection: invalid major version in %q: %w", token, err)
		}
		minor, err := parseNonNegativeInt(minorStr)
		if err != nil {
			return nil, fmt.Errorf("invalid_introspection: invalid minor version in %q: %w", token, err)
		}
		entries = append(entries, IntrospectionEntry{Name: name, Major: major, Minor: minor})
	}
	return entries, nil
}

func parseNonNegativeInt(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("negative version %d", v)
	}
	return v, nil
}

// ToMajorMap and ToMinorMap split parsed entries into the two maps the
// actor keeps: introspection (name -> major) and introspection_minor
// (name -> minor).
func ToMajorMap(entries []IntrospectionEntry) map[string]int {
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Major
	}
	return out
}

func ToMinorMap(entries []IntrospectionEntry) map[string]int {
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Minor
	}
	return out
}
