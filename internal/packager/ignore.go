package packager

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/specialistvlad/saucegrid/internal/ctxlog"
)

// IgnoreFileName is the project-local rule file.
const IgnoreFileName = ".sauceignore"

// tempArchivePattern names the partial archive while it is written. A run
// killed mid-write can leave one behind.
const tempArchivePattern = ".saucegrid-*.zip.tmp"

//go:embed default.sauceignore
var defaultIgnore []byte

// RuleSet is the ordered set of exclusion patterns applied to a project.
// Later patterns take precedence over earlier ones.
type RuleSet struct {
	patterns []string
	matcher  gitignore.Matcher
}

// NewRuleSet compiles patterns in gitignore syntax. Blank lines and
// comments are skipped.
func NewRuleSet(patterns ...string) *RuleSet {
	rs := &RuleSet{}
	var ps []gitignore.Pattern
	for _, p := range patterns {
		p = strings.TrimRight(p, " \t\r")
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		rs.patterns = append(rs.patterns, p)
		ps = append(ps, gitignore.ParsePattern(p, nil))
	}
	rs.matcher = gitignore.NewMatcher(ps)
	return rs
}

// Patterns returns the compiled patterns in precedence order.
func (rs *RuleSet) Patterns() []string {
	return append([]string(nil), rs.patterns...)
}

// Match reports whether the slash-separated relative path is excluded.
func (rs *RuleSet) Match(rel string) bool {
	return rs.matcher.Match(strings.Split(rel, "/"), false)
}

// Filter returns the paths that survive the rules, preserving order.
func (rs *RuleSet) Filter(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !rs.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// EnsureIgnoreFile writes the default rule file into root if the project has
// none. An existing file is never touched.
func EnsureIgnoreFile(ctx context.Context, root string) (bool, error) {
	p := filepath.Join(root, IgnoreFileName)
	if _, err := os.Stat(p); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to check %s: %w", p, err)
	}

	ctxlog.FromContext(ctx).Info("ℹ️ Writing .sauceignore file.", "path", p)
	if err := os.WriteFile(p, defaultIgnore, 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", p, err)
	}
	return true, nil
}

// LoadRules builds the rule set for root: the always-excluded paths (the
// rule file, version control metadata, partial archives and the archive
// itself) followed by the patterns from the project's rule file, if any.
func LoadRules(root, archiveName string) (*RuleSet, error) {
	patterns := []string{IgnoreFileName, ".git", tempArchivePattern}
	if archiveName != "" {
		patterns = append(patterns, archiveName)
	}

	data, err := os.ReadFile(filepath.Join(root, IgnoreFileName))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", IgnoreFileName, err)
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		patterns = append(patterns, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", IgnoreFileName, err)
	}

	// Project rules must not re-include the always-excluded paths.
	patterns = append(patterns, IgnoreFileName, ".git", tempArchivePattern)
	return NewRuleSet(patterns...), nil
}
