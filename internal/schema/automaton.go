package schema

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// EndpointID derives a deterministic endpoint id from interface name, major
// version and the (possibly empty, for object mappings) endpoint template,
// standing in for the external CQLUtils.endpoint_id contract.
func EndpointID(interfaceName string, major int, endpoint string) uuid.UUID {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", interfaceName, major, endpoint)))
	var id uuid.UUID
	copy(id[:], h[:16])
	return id
}

// EndpointToDBColumnName converts the last path segment of an endpoint
// template into a column-safe identifier, standing in for the external
// CQLUtils.endpoint_to_db_column_name contract.
func EndpointToDBColumnName(lastSegment string) string {
	return strings.ReplaceAll(lastSegment, "-", "_")
}

// endpointTemplate is one compiled endpoint of a PrefixAutomaton.
type endpointTemplate struct {
	id       uuid.UUID
	segments []string // "" denotes a parametric ("") wildcard segment
}

// PrefixAutomaton is a minimal EndpointsAutomaton: it matches a path against
// a set of endpoint templates token by token, where an empty template
// segment matches any single concrete segment (the %{param} placeholders
// compile down to "" per spec.md §9's token model).
type PrefixAutomaton struct {
	endpoints []endpointTemplate
}

// NewPrefixAutomaton builds an automaton from endpoint templates, each a
// '/'-separated path possibly containing "%{...}" parametric segments.
func NewPrefixAutomaton(interfaceName string, major int, templates []string) *PrefixAutomaton {
	a := &PrefixAutomaton{}
	for _, tmpl := range templates {
		segs := splitPath(tmpl)
		tokenized := make([]string, len(segs))
		for i, s := range segs {
			if strings.HasPrefix(s, "%{") && strings.HasSuffix(s, "}") {
				tokenized[i] = ""
			} else {
				tokenized[i] = s
			}
		}
		a.endpoints = append(a.endpoints, endpointTemplate{
			id:       EndpointID(interfaceName, major, tmpl),
			segments: tokenized,
		})
	}
	return a
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// ResolvePath matches path against every compiled endpoint template. A
// single exact (non-wildcard-ambiguous) match returns that endpoint id. If
// more than one template matches with the same length (an object mapping
// whose last segment varies), ResolvePath returns all of them as "guessed".
func (a *PrefixAutomaton) ResolvePath(path string) (ResolveResult, error) {
	segs := splitPath(path)

	var matches []endpointTemplate
	for _, ep := range a.endpoints {
		if matchSegments(ep.segments, segs) {
			matches = append(matches, ep)
		}
	}

	switch len(matches) {
	case 0:
		return ResolveResult{}, fmt.Errorf("mapping_not_found: no endpoint matches path %q", path)
	case 1:
		return ResolveResult{EndpointID: matches[0].id}, nil
	default:
		ids := make([]uuid.UUID, len(matches))
		for i, m := range matches {
			ids[i] = m.id
		}
		return ResolveResult{Guessed: true, GuessedEndpoints: ids}, nil
	}
}

// ResolveObjectPrefix implements the object-aggregation side of endpoint
// resolution (spec.md §4.2.3 step 4): every template whose segments are
// exactly depth(path)+1 long and whose first len(path) segments match path.
func (a *PrefixAutomaton) ResolveObjectPrefix(path string) ([]uuid.UUID, error) {
	segs := splitPath(path)

	var matches []uuid.UUID
	for _, ep := range a.endpoints {
		if len(ep.segments) != len(segs)+1 {
			continue
		}
		if matchSegments(ep.segments[:len(segs)], segs) {
			matches = append(matches, ep.id)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("mapping_not_found: no endpoint template one segment deeper than %q", path)
	}
	return matches, nil
}

func matchSegments(template, path []string) bool {
	if len(template) != len(path) {
		return false
	}
	for i, t := range template {
		if t == "" {
			continue
		}
		if t != path[i] {
			return false
		}
	}
	return true
}
