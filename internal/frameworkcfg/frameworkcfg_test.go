package frameworkcfg

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specialistvlad/saucegrid/internal/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readGenerated(t *testing.T, root, name string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, name))
	require.NoError(t, err)
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestWrite_MergesBaseOverridesAndEnv(t *testing.T) {
	// --- Arrange ---
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cypress.json"),
		[]byte(`{"baseUrl": "http://localhost:3000", "video": true, "env": {"FROM_BASE": "1", "SHARED": "base"}}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, EnvFileName),
		[]byte(`{"FROM_FILE": "yes", "SHARED": "file"}`), 0644))

	suite := matrix.Suite{
		Name:            "SUITE 1 of 1",
		ConfigOverrides: map[string]string{"video": "false", "viewportWidth": "1280", "reporter": "junit"},
		EnvOverrides:    map[string]string{"SHARED": "cli"},
		TestSelector:    "cypress/integration/a.spec.js",
	}

	// --- Act ---
	res, err := Write(context.Background(), root, suite)

	// --- Assert ---
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Path, FilePrefix))
	assert.Equal(t, "http://localhost:3000", res.BaseURL)

	cfg := readGenerated(t, root, res.Path)
	assert.Equal(t, false, cfg["video"])
	assert.Equal(t, float64(1280), cfg["viewportWidth"])
	assert.Equal(t, "junit", cfg["reporter"])
	assert.Equal(t, "cypress/integration/a.spec.js", cfg["testFiles"])
	assert.Equal(t, map[string]any{"FROM_BASE": "1", "FROM_FILE": "yes", "SHARED": "cli"}, cfg["env"])
}

func TestWrite_IdenticalContentSharesFile(t *testing.T) {
	root := t.TempDir()
	a, err := Write(context.Background(), root, matrix.Suite{Name: "a", BaseConfigFile: Disabled})
	require.NoError(t, err)
	b, err := Write(context.Background(), root, matrix.Suite{Name: "b", BaseConfigFile: Disabled})
	require.NoError(t, err)
	assert.Equal(t, a.Path, b.Path)

	c, err := Write(context.Background(), root, matrix.Suite{Name: "c", BaseConfigFile: Disabled, TestSelector: "x.spec.js"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Path, c.Path)
}

func TestWrite_Errors(t *testing.T) {
	t.Run("missing base config", func(t *testing.T) {
		_, err := Write(context.Background(), t.TempDir(), matrix.Suite{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfigNotFound))
	})

	t.Run("invalid base config", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "custom.json"), []byte(`{nope`), 0644))
		_, err := Write(context.Background(), root, matrix.Suite{BaseConfigFile: "custom.json"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidJSON))
	})

	t.Run("invalid env file", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, EnvFileName), []byte(`[`), 0644))
		_, err := Write(context.Background(), root, matrix.Suite{BaseConfigFile: Disabled})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidJSON))
	})
}

func TestRemoveStale(t *testing.T) {
	// --- Arrange ---
	root := t.TempDir()
	prev, err := Write(context.Background(), root, matrix.Suite{Name: "old", BaseConfigFile: Disabled})
	require.NoError(t, err)
	for _, name := range []string{"cypress.json", "cypress-custom.json", "cypress-0123456789ab.json.bak"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(`{}`), 0644))
	}

	// --- Act ---
	removed, err := RemoveStale(context.Background(), root)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{prev.Path}, removed)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{"cypress.json", "cypress-custom.json", "cypress-0123456789ab.json.bak"}, left)
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, true, coerce("true"))
	assert.Equal(t, float64(3), coerce("3"))
	assert.Equal(t, "http://x", coerce("http://x"))
	assert.Equal(t, `"quoted"`, coerce(`"quoted"`))
}
