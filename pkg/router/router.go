package router

import (
	"fmt"
	"reflect"

	"github.com/orgloop/orgloop/pkg/types"
)

// Match returns the routes matching an event, in declaration order. Matching
// is deterministic: the same event against the same route set always yields
// the same list. Matches fan out independently; no route cancels another.
func Match(routes []types.Route, event *types.Event) []types.Route {
	var matched []types.Route
	for _, route := range routes {
		if Matches(route, event) {
			matched = append(matched, route)
		}
	}
	return matched
}

// Matches reports whether a single route matches the event: the source must
// equal when.source, the type must be in when.events, and every filter path
// must resolve to the expected value.
func Matches(route types.Route, event *types.Event) bool {
	if event.Source != route.When.Source {
		return false
	}

	typeOK := false
	for _, t := range route.When.Events {
		if t == event.Type {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return false
	}

	for path, expected := range route.When.Filter {
		got, ok := event.Lookup(path)
		if !ok {
			return false
		}
		if !valuesEqual(got, expected) {
			return false
		}
	}
	return true
}

// valuesEqual compares a looked-up event value against a filter expectation.
// Scalars compare by their string form (so YAML and JSON numerals agree);
// composites fall back to deep equality.
func valuesEqual(got, expected any) bool {
	if isComposite(got) || isComposite(expected) {
		return reflect.DeepEqual(got, expected)
	}
	return fmt.Sprint(got) == fmt.Sprint(expected)
}

func isComposite(v any) bool {
	switch v.(type) {
	case map[string]any, map[string]string, []any:
		return true
	}
	return false
}
