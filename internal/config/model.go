package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/specialistvlad/saucegrid/internal/kvparse"
)

// Model is the unified, format-agnostic representation of a suite
// configuration file.
type Model struct {
	// Source is the path the model was loaded from.
	Source string
	// Entries appear in declaration order.
	Entries []*Entry
}

// Entry is one named group of suites. Any field left unset inherits the
// value given on the command line.
type Entry struct {
	Name       string
	Browser    string // comma-separated browser tokens
	ConfigFile string
	Config     Overrides
	Env        Overrides
	Spec       string // spec file path or glob, relative to the project root
}

// Overrides is a list of key=value pairs that distinguishes "not given" from
// "given but empty".
type Overrides struct {
	Set   bool
	Pairs []kvparse.Pair
}

// ParseOverrides turns the flag form "k=v,k=v" into Overrides.
func ParseOverrides(arg, s string) (Overrides, error) {
	pairs, err := kvparse.Parse(arg, s)
	if err != nil {
		return Overrides{}, err
	}
	return Overrides{Set: true, Pairs: pairs}, nil
}

// OverridesFromValue accepts the decoded value of a config/env field: nil
// (unset), a "k=v,k=v" string, or an object whose values are scalars.
// Object keys are sorted so the result does not depend on map order.
func OverridesFromValue(arg string, v any) (Overrides, error) {
	switch t := v.(type) {
	case nil:
		return Overrides{}, nil
	case string:
		return ParseOverrides(arg, t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]kvparse.Pair, 0, len(keys))
		for _, k := range keys {
			s, err := scalarString(t[k])
			if err != nil {
				return Overrides{}, fmt.Errorf("%s.%s: %w", arg, k, err)
			}
			pairs = append(pairs, kvparse.Pair{Key: k, Value: s})
		}
		return Overrides{Set: true, Pairs: pairs}, nil
	default:
		return Overrides{}, fmt.Errorf("%s must be a string of key=value pairs or an object, got %T", arg, v)
	}
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case nil:
		return "", fmt.Errorf("value must not be null")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("unsupported value of type %T", v)
		}
		return string(b), nil
	}
}
