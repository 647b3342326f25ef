package priority

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/marketdeck/marketdata/internal/cache"
)

// Rule maps cache keys to a retention tier. Rules are an ordered list: the
// first enabled rule whose pattern (and data type, when set) matches wins.
type Rule struct {
	ID       string   `json:"id" yaml:"id"`
	Pattern  string   `json:"pattern" yaml:"pattern"`
	DataType string   `json:"data_type,omitempty" yaml:"data_type,omitempty"` // cache domain filter, empty = any
	Priority Priority `json:"priority" yaml:"priority"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`

	matcher *matcher
}

// compile builds the rule's matcher and fills in defaults. Patterns are
// compiled once at add time, not re-parsed per lookup.
func (r *Rule) compile() error {
	if r.Pattern == "" {
		return fmt.Errorf("rule pattern is empty")
	}
	if !r.Priority.Valid() {
		return fmt.Errorf("rule %q: unknown priority %q", r.Pattern, r.Priority)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.matcher = compilePattern(r.Pattern)
	return nil
}

// matches reports whether the rule applies to key.
func (r *Rule) matches(key string) bool {
	if !r.Enabled {
		return false
	}
	if r.DataType != "" && r.DataType != string(cache.DomainOf(key)) {
		return false
	}
	return r.matcher.match(key)
}

// matcher is a glob pattern ("*" wildcard) decomposed at compile time into
// a required prefix, ordered middle substrings, and a required suffix, so
// matching is a few substring scans instead of pattern parsing per lookup.
type matcher struct {
	exact        string // pattern without any wildcard, empty otherwise
	segments     []string
	leadingWild  bool
	trailingWild bool
}

func compilePattern(pattern string) *matcher {
	if !strings.Contains(pattern, "*") {
		return &matcher{exact: pattern}
	}
	m := &matcher{
		leadingWild:  strings.HasPrefix(pattern, "*"),
		trailingWild: strings.HasSuffix(pattern, "*"),
	}
	for _, seg := range strings.Split(pattern, "*") {
		if seg != "" {
			m.segments = append(m.segments, seg)
		}
	}
	return m
}

func (m *matcher) match(s string) bool {
	if m.exact != "" {
		return s == m.exact
	}
	segs := m.segments
	if len(segs) == 0 {
		return true // pattern was all wildcards
	}

	if !m.leadingWild {
		if !strings.HasPrefix(s, segs[0]) {
			return false
		}
		s = s[len(segs[0]):]
		segs = segs[1:]
	}
	if !m.trailingWild && len(segs) > 0 {
		last := segs[len(segs)-1]
		if !strings.HasSuffix(s, last) {
			return false
		}
		s = s[:len(s)-len(last)]
		segs = segs[:len(segs)-1]
	}
	for _, seg := range segs {
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}
	return true
}

// DefaultRules is the out-of-the-box rule set: long-lived history is kept
// longest, searches are throwaway, everything else defaults to MEDIUM via
// the fallthrough in PriorityOf.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "historical:*", Priority: High, Enabled: true},
		{Pattern: "quote:*", Priority: Medium, Enabled: true},
		{Pattern: "technical:*", Priority: Medium, Enabled: true},
		{Pattern: "search:*", Priority: Temporary, Enabled: true},
	}
}
