package docstore

import (
	"fmt"
	"reflect"
	"strings"
)

// Selector is a mapping from dotted key paths to expected values. A value
// may be an operator map ({"$ne": ...}) instead of a plain value.
type Selector map[string]any

// RetrieveDocValues returns every value in doc reachable through the dotted
// selector key. Descending through a list of mappings flattens into its
// elements, but a key that resolves to a list with no remaining path
// segments yields the list itself.
func RetrieveDocValues(sKey string, doc any) []any {
	var values []any

	var walk func(key string, current any)
	walk = func(key string, current any) {
		pre, post, found := strings.Cut(key, ".")
		if !found {
			switch v := current.(type) {
			case map[string]any:
				if value, ok := v[key]; ok {
					values = append(values, value)
				}
			case []any:
				for _, elem := range v {
					walk(key, elem)
				}
			}

			return
		}

		if v, ok := current.(map[string]any); ok {
			if next, ok := v[pre]; ok {
				walk(post, next)
			}
		}
	}

	walk(sKey, doc)

	return values
}

// matcher reports whether a document matches for a given selector key.
type matcher func(sKey string, doc Document) bool

func containsOperator(selectorValue any) bool {
	m, ok := selectorValue.(map[string]any)
	if !ok {
		return false
	}

	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}

	return false
}

func newSimpleMatcher(pred func(docValue any) bool) matcher {
	return func(sKey string, doc Document) bool {
		for _, docValue := range RetrieveDocValues(sKey, doc) {
			if pred(docValue) {
				return true
			}
		}

		return false
	}
}

func newSimpleInvMatcher(pred func(docValue any) bool) matcher {
	return func(sKey string, doc Document) bool {
		for _, docValue := range RetrieveDocValues(sKey, doc) {
			if pred(docValue) {
				return false
			}
		}

		return true
	}
}

func newEqMatcher(sValue any) (matcher, error) {
	return newSimpleMatcher(func(docValue any) bool {
		return valuesEqual(docValue, sValue)
	}), nil
}

func newNeMatcher(sValue any) (matcher, error) {
	return newSimpleInvMatcher(func(docValue any) bool {
		return valuesEqual(docValue, sValue)
	}), nil
}

func newInMatcher(sValue any) (matcher, error) {
	candidates, ok := sValue.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: $in value must be a list", ErrInvalidSelector)
	}

	return newSimpleMatcher(func(docValue any) bool {
		return valueInList(docValue, candidates)
	}), nil
}

func newNinMatcher(sValue any) (matcher, error) {
	candidates, ok := sValue.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: $nin value must be a list", ErrInvalidSelector)
	}

	return newSimpleInvMatcher(func(docValue any) bool {
		return valueInList(docValue, candidates)
	}), nil
}

func newContainsMatcher(sValue any) (matcher, error) {
	return newSimpleMatcher(func(docValue any) bool {
		switch v := docValue.(type) {
		case string:
			s, ok := sValue.(string)
			return ok && strings.Contains(v, s)
		case []any:
			return valueInList(sValue, v)
		case map[string]any:
			s, ok := sValue.(string)
			if !ok {
				return false
			}
			_, present := v[s]
			return present
		default:
			return false
		}
	}), nil
}

func newOrderMatcher(sValue any, accept func(cmp int) bool) (matcher, error) {
	return newSimpleMatcher(func(docValue any) bool {
		cmp, ok := compareOrderable(docValue, sValue)
		return ok && accept(cmp)
	}), nil
}

func newExistsMatcher(sValue any) (matcher, error) {
	want := truthy(sValue)

	return func(sKey string, doc Document) bool {
		return (len(RetrieveDocValues(sKey, doc)) > 0) == want
	}, nil
}

var matcherFactories = map[string]func(sValue any) (matcher, error){
	"$in":       newInMatcher,
	"$nin":      newNinMatcher,
	"$contains": newContainsMatcher,
	"$gt":       func(v any) (matcher, error) { return newOrderMatcher(v, func(c int) bool { return c > 0 }) },
	"$ge":       func(v any) (matcher, error) { return newOrderMatcher(v, func(c int) bool { return c >= 0 }) },
	"$lt":       func(v any) (matcher, error) { return newOrderMatcher(v, func(c int) bool { return c < 0 }) },
	"$le":       func(v any) (matcher, error) { return newOrderMatcher(v, func(c int) bool { return c <= 0 }) },
	"$ne":       newNeMatcher,
	"$exists":   newExistsMatcher,
}

func newMatcher(sValue any) (matcher, error) {
	if !containsOperator(sValue) {
		return newEqMatcher(sValue)
	}

	operators := sValue.(map[string]any)
	matchers := make([]matcher, 0, len(operators))

	for opKey, opValue := range operators {
		factory, ok := matcherFactories[opKey]
		if !ok {
			return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidSelector, opKey)
		}

		m, err := factory(opValue)
		if err != nil {
			return nil, err
		}

		matchers = append(matchers, m)
	}

	if len(matchers) == 1 {
		return matchers[0], nil
	}

	return func(sKey string, doc Document) bool {
		for _, m := range matchers {
			if !m(sKey, doc) {
				return false
			}
		}

		return true
	}, nil
}

// NewPredFromSelector builds a predicate over documents. An empty selector
// matches everything; a non-empty selector requires every key to match.
func NewPredFromSelector(selector Selector) (func(Document) bool, error) {
	type keyMatcher struct {
		sKey string
		m    matcher
	}

	keyMatchers := make([]keyMatcher, 0, len(selector))

	for sKey, sValue := range selector {
		m, err := newMatcher(sValue)
		if err != nil {
			return nil, err
		}

		keyMatchers = append(keyMatchers, keyMatcher{sKey: sKey, m: m})
	}

	return func(doc Document) bool {
		for _, km := range keyMatchers {
			if !km.m(km.sKey, doc) {
				return false
			}
		}

		return true
	}, nil
}

// NewSortKeyFunc returns a function extracting the sort key at the dotted
// path. Documents without the path yield nil, which sorts before any
// present value.
func NewSortKeyFunc(key string) func(Document) any {
	splitKey := strings.Split(key, ".")

	return func(doc Document) any {
		var current any = doc

		for _, k := range splitKey {
			m, ok := current.(map[string]any)
			if !ok {
				return nil
			}

			current, ok = m[k]
			if !ok {
				return nil
			}
		}

		return current
	}
}

func valuesEqual(a, b any) bool {
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			return na == nb
		}

		return false
	}

	return reflect.DeepEqual(a, b)
}

func valueInList(value any, list []any) bool {
	for _, elem := range list {
		if valuesEqual(value, elem) {
			return true
		}
	}

	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// compareOrderable compares values that have a natural ordering. The second
// return value is false when the pair is not comparable.
func compareOrderable(a, b any) (int, bool) {
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		if !ok {
			return 0, false
		}

		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		default:
			return 0, true
		}
	}

	if sa, ok := a.(string); ok {
		sb, ok := b.(string)
		if !ok {
			return 0, false
		}

		return strings.Compare(sa, sb), true
	}

	return 0, false
}

// CompareDocValues orders sort keys: nil sorts lowest, then booleans,
// numbers and strings. Pairs with no defined order compare equal.
func CompareDocValues(a, b any) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}

		return 1
	}

	switch ra {
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case !ba && bb:
			return -1
		case ba && !bb:
			return 1
		default:
			return 0
		}
	case rankNumber, rankString:
		cmp, _ := compareOrderable(a, b)
		return cmp
	default:
		return 0
	}
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankString
	rankOther
)

func sortRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case string:
		return rankString
	default:
		if _, ok := asFloat(v); ok {
			return rankNumber
		}

		return rankOther
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		if n, ok := asFloat(v); ok {
			return n != 0
		}

		return true
	}
}
