// Package route reads the HTTP route table of the running application and derives the
// naming-service identifiers the application is registered under.
//
// An identifier is the context path joined with a route pattern, with every "/" replaced
// by "." and the version appended after ":":
//
//	contextPath "/svc", pattern "/a", version "1.0"  ->  ".svc.a:1.0"
package route

import (
	"sort"
	"strings"
)

// Provider exposes the path patterns known to the HTTP layer.
// It is read once the application is fully started, so implementations need no locking.
type Provider interface {
	Patterns() []string
}

// Static is a fixed route table.
type Static []string

func (s Static) Patterns() []string {
	return append([]string(nil), s...)
}

// ServiceName derives the identifier for a single route pattern.
func ServiceName(contextPath, pattern, version string) string {
	return strings.ReplaceAll(contextPath+pattern, "/", ".") + ":" + version
}

// ServiceNames derives the identifier set for a route table. Patterns listed in ignore are
// skipped, duplicates collapse into one identifier and the result is sorted, so the same
// routes and configuration always produce the same slice.
func ServiceNames(patterns []string, contextPath, version string, ignore []string) []string {
	skip := make(map[string]struct{}, len(ignore))
	for _, p := range ignore {
		skip[p] = struct{}{}
	}

	seen := make(map[string]struct{}, len(patterns))
	names := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if _, ok := skip[p]; ok {
			continue
		}
		name := ServiceName(contextPath, p, version)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
