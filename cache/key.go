package cache

import (
	"fmt"
	"slices"
	"strings"
)

// keySep joins kind and params in the encoded form, e.g. habits_today.
const keySep = "_"

// Key identifies a cached payload by kind and qualifying params. It is only
// encoded to a string at the storage boundary.
type Key struct {
	Kind   string
	Params []string
}

// NewKey builds a key, formatting each param with %v.
func NewKey(kind string, params ...any) Key {
	k := Key{Kind: kind}
	for _, p := range params {
		k.Params = append(k.Params, fmt.Sprint(p))
	}
	return k
}

// ParseKey splits an encoded key on "_". ParseKey(k.String()).String() is
// always k.String(), but the kind/params split of a key whose parts contain
// "_" is a guess.
func ParseKey(s string) Key {
	parts := strings.Split(s, keySep)
	k := Key{Kind: parts[0]}
	if len(parts) > 1 {
		k.Params = parts[1:]
	}
	return k
}

func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Kind
	}
	return k.Kind + keySep + strings.Join(k.Params, keySep)
}

func (k Key) IsZero() bool {
	return k.Kind == "" && len(k.Params) == 0
}

func (k Key) Equal(o Key) bool {
	return k.Kind == o.Kind && slices.Equal(k.Params, o.Params)
}

// Matcher selects keys for invalidation.
type Matcher interface {
	Match(k Key) bool
	String() string
}

// encodedMatcher is implemented by matchers that only look at k.String().
type encodedMatcher interface {
	encodedOnly()
}

type containsMatcher string

// MatchContains matches every key whose encoded form contains s. An empty s
// matches nothing; use Clear to drop everything.
func MatchContains(s string) Matcher { return containsMatcher(s) }

func (m containsMatcher) Match(k Key) bool {
	return m != "" && strings.Contains(k.String(), string(m))
}

func (m containsMatcher) String() string { return "contains:" + string(m) }

func (containsMatcher) encodedOnly() {}

type kindMatcher struct {
	kind   string
	params []string
}

// MatchKind matches keys of exactly kind whose params start with params.
// MatchKind("habits") matches habits_today but not habit_stats_7.
func MatchKind(kind string, params ...any) Matcher {
	k := NewKey(kind, params...)
	return kindMatcher{kind: k.Kind, params: k.Params}
}

func (m kindMatcher) Match(k Key) bool {
	if k.Kind != m.kind || len(k.Params) < len(m.params) {
		return false
	}
	return slices.Equal(k.Params[:len(m.params)], m.params)
}

func (m kindMatcher) String() string {
	return "kind:" + Key{Kind: m.kind, Params: m.params}.String()
}

type exactMatcher string

// MatchExact matches a single key by its encoded form.
func MatchExact(k Key) Matcher { return exactMatcher(k.String()) }

func (m exactMatcher) Match(k Key) bool { return k.String() == string(m) }

func (m exactMatcher) String() string { return "key:" + string(m) }

func (exactMatcher) encodedOnly() {}

type anyMatcher []Matcher

// MatchAny matches when any of ms does.
func MatchAny(ms ...Matcher) Matcher { return anyMatcher(ms) }

func (m anyMatcher) Match(k Key) bool {
	for _, mm := range m {
		if mm.Match(k) {
			return true
		}
	}
	return false
}

func (m anyMatcher) String() string {
	parts := make([]string, len(m))
	for i, mm := range m {
		parts[i] = mm.String()
	}
	return "any(" + strings.Join(parts, ",") + ")"
}
