package route

import (
	"fmt"
	"log/slog"
	"sort"
)

const logPrefix = "route:matcher"

// Matcher is a compiled route. It is immutable once built.
type Matcher struct {
	Route   Route
	Score   float64
	pattern pattern
}

// Pattern returns the route path the matcher was compiled from.
func (m *Matcher) Pattern() string {
	return m.pattern.raw
}

// Matched is the outcome of a successful match.
type Matched struct {
	Route   Route
	Params  Params
	Score   float64
	Pattern string
}

// Build compiles routes into matchers ordered by score, highest first.
// Routes with equal scores keep their input order. A malformed pattern fails
// the whole build.
func Build(routes []Route) ([]*Matcher, error) {
	matchers := make([]*Matcher, 0, len(routes))
	owners := make(map[string]string, len(routes))

	for _, r := range routes {
		p, err := parsePattern(r.Path)
		if err != nil {
			return nil, fmt.Errorf("%s - app %q: %w", logPrefix, r.AppID, err)
		}
		if owner, dup := owners[r.Path]; dup {
			slog.Warn(fmt.Sprintf("%s - duplicate route path %s", logPrefix, r.Path),
				"path", r.Path, "firstApp", owner, "app", r.AppID)
		} else {
			owners[r.Path] = r.AppID
		}
		matchers = append(matchers, &Matcher{Route: r, Score: p.score(), pattern: p})
	}

	sort.SliceStable(matchers, func(i, j int) bool {
		return matchers[i].Score > matchers[j].Score
	})
	return matchers, nil
}

// Match returns the first matcher whose pattern structurally matches path.
func Match(matchers []*Matcher, path string) (*Matched, bool) {
	parts := splitPath(normalizePath(path))
	for _, m := range matchers {
		if params, ok := m.pattern.match(parts); ok {
			return m.matched(params), true
		}
	}
	return nil, false
}

// MatchAll returns every matcher that matches path, in matcher order.
func MatchAll(matchers []*Matcher, path string) []*Matched {
	parts := splitPath(normalizePath(path))
	var out []*Matched
	for _, m := range matchers {
		if params, ok := m.pattern.match(parts); ok {
			out = append(out, m.matched(params))
		}
	}
	return out
}

func (m *Matcher) matched(params Params) *Matched {
	return &Matched{Route: m.Route, Params: params, Score: m.Score, Pattern: m.pattern.raw}
}
