// Package kvparse parses the comma-separated key=value lists accepted by the
// --config and --env flags (and the matching suite configuration fields).
package kvparse

import (
	"fmt"
	"strings"
)

// Pair is one key=value token.
type Pair struct {
	Key   string
	Value string
}

// SyntaxError reports a token that is not a well-formed key=value pair.
type SyntaxError struct {
	Arg   string // name of the argument being parsed, e.g. "config"
	Token string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("encountered an error while parsing the argument '%s': you passed '%s', must provide a key and value separated by = sign", e.Arg, e.Token)
}

// Parse splits s on commas and returns the pairs in the order they appear.
// Empty tokens are ignored. The first '=' separates key from value, so values
// may themselves contain '='.
func Parse(arg, s string) ([]Pair, error) {
	var pairs []Pair
	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		key, value, ok := strings.Cut(token, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			return nil, &SyntaxError{Arg: arg, Token: token}
		}
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs, nil
}

// ToMap folds pairs into a map. Later keys win. A nil map is returned for an
// empty input.
func ToMap(pairs []Pair) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

// String renders pairs back into the flag syntax.
func String(pairs []Pair) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.Key + "=" + p.Value
	}
	return strings.Join(parts, ",")
}
