package packager

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

func archiveEntries(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := map[string]string{}
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(data)
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestPackage_ExcludesRuleFileAndVCS(t *testing.T) {
	// --- Arrange ---
	root := makeTree(t, map[string]string{
		"a":            "a",
		"b/c":          "c",
		".sauceignore": ".git\n",
		".git/x":       "x",
	})

	// --- Act ---
	res, err := Package(context.Background(), root, DefaultArchiveName)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b/c"}, res.Files)
	assert.Equal(t, filepath.Join(root, DefaultArchiveName), res.Path)

	entries := archiveEntries(t, res.Path)
	assert.Equal(t, []string{"a", "b/c"}, keys(entries))
	assert.Equal(t, "c", entries["b/c"])
}

func TestPackage_AppliesProjectRules(t *testing.T) {
	// --- Arrange ---
	root := makeTree(t, map[string]string{
		"cypress/integration/a.spec.js": "spec",
		"cypress/videos/a.mp4":          "video",
		"node_modules/dep/index.js":     "dep",
		"debug.log":                     "log",
		"keep.log":                      "log",
		".sauceignore":                  "# comment\n\ncypress/videos/\nnode_modules/\n*.log\n!keep.log\n",
	})

	// --- Act ---
	res, err := Package(context.Background(), root, DefaultArchiveName)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"cypress/integration/a.spec.js", "keep.log"}, res.Files)
}

func TestPackage_DoesNotIncludeItself(t *testing.T) {
	root := makeTree(t, map[string]string{"a.js": "a", ".sauceignore": ""})

	_, err := Package(context.Background(), root, DefaultArchiveName)
	require.NoError(t, err)
	// A second run sees the first archive on disk.
	res, err := Package(context.Background(), root, DefaultArchiveName)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.js"}, res.Files)
	assert.Equal(t, []string{"a.js"}, keys(archiveEntries(t, res.Path)))
}

func TestPackage_IsDeterministic(t *testing.T) {
	root := makeTree(t, map[string]string{"z.js": "z", "a/b.js": "b", ".sauceignore": ""})
	out1 := filepath.Join(t.TempDir(), "one.zip")
	out2 := filepath.Join(t.TempDir(), "two.zip")

	_, err := Package(context.Background(), root, out1)
	require.NoError(t, err)
	_, err = Package(context.Background(), root, out2)
	require.NoError(t, err)

	b1, err := os.ReadFile(out1)
	require.NoError(t, err)
	b2, err := os.ReadFile(out2)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(b1, b2), "archives of the same tree should be byte-identical")
}

func TestPackage_CancelledContext(t *testing.T) {
	root := makeTree(t, map[string]string{"a.js": "a", ".sauceignore": ""})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Package(ctx, root, DefaultArchiveName)
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(filepath.Join(root, DefaultArchiveName))
	assert.True(t, os.IsNotExist(statErr), "no archive should be left behind")
}

func TestEnsureIgnoreFile(t *testing.T) {
	t.Run("writes the default when missing", func(t *testing.T) {
		root := t.TempDir()
		written, err := EnsureIgnoreFile(context.Background(), root)
		require.NoError(t, err)
		assert.True(t, written)

		data, err := os.ReadFile(filepath.Join(root, IgnoreFileName))
		require.NoError(t, err)
		assert.Equal(t, defaultIgnore, data)

		written, err = EnsureIgnoreFile(context.Background(), root)
		require.NoError(t, err)
		assert.False(t, written, "second call must be a no-op")
	})

	t.Run("keeps an existing file", func(t *testing.T) {
		root := makeTree(t, map[string]string{IgnoreFileName: "custom\n"})
		written, err := EnsureIgnoreFile(context.Background(), root)
		require.NoError(t, err)
		assert.False(t, written)

		data, err := os.ReadFile(filepath.Join(root, IgnoreFileName))
		require.NoError(t, err)
		assert.Equal(t, "custom\n", string(data))
	})
}

func TestRuleSet_Filter(t *testing.T) {
	testCases := []struct {
		name     string
		patterns []string
		paths    []string
		expected []string
	}{
		{
			name:     "directory prefix",
			patterns: []string{"build/"},
			paths:    []string{"build/out.js", "src/build.js", "src/build/x.js"},
			expected: []string{"src/build.js"},
		},
		{
			name:     "anchored pattern",
			patterns: []string{"/docs"},
			paths:    []string{"docs/a.md", "src/docs/b.md"},
			expected: []string{"src/docs/b.md"},
		},
		{
			name:     "double star",
			patterns: []string{"**/fixtures/*.json"},
			paths:    []string{"cypress/fixtures/a.json", "fixtures/b.json", "cypress/fixtures/c.txt"},
			expected: []string{"cypress/fixtures/c.txt"},
		},
		{
			name:     "later negation wins",
			patterns: []string{"*.md", "!README.md"},
			paths:    []string{"README.md", "CHANGES.md"},
			expected: []string{"README.md"},
		},
		{
			name:     "comments and blanks ignored",
			patterns: []string{"# a.js", "", "   "},
			paths:    []string{"a.js"},
			expected: []string{"a.js"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, NewRuleSet(tc.patterns...).Filter(tc.paths))
		})
	}
}

func TestLoadRules_ProjectCannotReincludeVCS(t *testing.T) {
	root := makeTree(t, map[string]string{IgnoreFileName: "!.git\n!.sauceignore\n"})
	rules, err := LoadRules(root, DefaultArchiveName)
	require.NoError(t, err)

	assert.True(t, rules.Match(".git/HEAD"))
	assert.True(t, rules.Match(IgnoreFileName))
	assert.True(t, rules.Match(DefaultArchiveName))
	assert.False(t, rules.Match("src/app.js"))

	patterns := rules.Patterns()
	assert.Equal(t, []string{IgnoreFileName, ".git", tempArchivePattern, DefaultArchiveName}, patterns[:4])
	assert.Equal(t, []string{IgnoreFileName, ".git", tempArchivePattern}, patterns[len(patterns)-3:])
}

func TestPackage_SkipsLeftoverPartialArchive(t *testing.T) {
	root := makeTree(t, map[string]string{
		"a.js":                       "a",
		".sauceignore":               "",
		".saucegrid-123.zip.tmp":     "partial",
		"sub/.saucegrid-456.zip.tmp": "partial",
	})

	res, err := Package(context.Background(), root, DefaultArchiveName)

	require.NoError(t, err)
	assert.Equal(t, []string{"a.js"}, res.Files)
}
