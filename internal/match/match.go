// Package match evaluates ordered matchers where the first match wins.
package match

import "strings"

// Contains reports whether phrase occurs in text, ignoring case. An empty or
// blank phrase never matches.
func Contains(text, phrase string) bool {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(phrase))
}

// First returns the index of the first item accepted by accept. Items after
// the first accepted one are not evaluated.
func First[T any](items []T, accept func(T) bool) (int, bool) {
	for i, it := range items {
		if accept(it) {
			return i, true
		}
	}
	return -1, false
}

// Rule is a named matcher producing a result of type R.
type Rule[R any] struct {
	Name  string
	Match func(input string) (R, bool)
}

// Evaluate runs rules in order and returns the result of the first one that
// matches, with its name.
func Evaluate[R any](rules []Rule[R], input string) (R, string, bool) {
	for _, r := range rules {
		if out, ok := r.Match(input); ok {
			return out, r.Name, true
		}
	}
	var zero R
	return zero, "", false
}
