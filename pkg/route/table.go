package route

import "time"

// Table is an immutable, built route set. Reloads build a new Table and swap
// it in whole.
type Table struct {
	matchers []*Matcher
	stats    Stats
	builtAt  time.Time
}

// NewTable builds routes into a Table.
func NewTable(routes []Route) (*Table, error) {
	matchers, err := Build(routes)
	if err != nil {
		return nil, err
	}
	return &Table{
		matchers: matchers,
		stats:    ComputeStats(matchers),
		builtAt:  time.Now().UTC(),
	}, nil
}

// Match resolves path against the table. A nil table matches nothing.
func (t *Table) Match(path string) (*Matched, bool) {
	if t == nil {
		return nil, false
	}
	return Match(t.matchers, path)
}

// MatchAll returns every route matching path, in priority order.
func (t *Table) MatchAll(path string) []*Matched {
	if t == nil {
		return nil
	}
	return MatchAll(t.matchers, path)
}

// Matchers returns a copy of the ordered matcher list.
func (t *Table) Matchers() []*Matcher {
	if t == nil {
		return nil
	}
	out := make([]*Matcher, len(t.matchers))
	copy(out, t.matchers)
	return out
}

// Stats returns the summary computed at build time.
func (t *Table) Stats() Stats {
	if t == nil {
		return ComputeStats(nil)
	}
	return t.stats
}

// Len returns the number of routes in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.matchers)
}

// BuiltAt returns when the table was built.
func (t *Table) BuiltAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.builtAt
}
