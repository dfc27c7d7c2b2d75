package hcl_adapter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/saucegrid/internal/kvparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHCL(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sauce.conf.hcl")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoader_DecodesSuitesInOrder(t *testing.T) {
	// --- Arrange ---
	path := writeHCL(t, `
suite "regression" {
  browser     = "chrome,firefox:78"
  config_file = "cypress.ci.json"
  spec        = "cypress/integration/**/*.spec.js"
  config      = { baseUrl = "http://localhost:8080", video = false, viewportWidth = 1280 }
}

suite "smoke" {
  browser = "edge"
  env     = "FOO=bar,BAZ=qux"
}
`)

	// --- Act ---
	model, err := NewLoader().Load(context.Background(), path)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, model.Entries, 2)

	reg := model.Entries[0]
	assert.Equal(t, "regression", reg.Name)
	assert.Equal(t, "chrome,firefox:78", reg.Browser)
	assert.Equal(t, "cypress.ci.json", reg.ConfigFile)
	assert.Equal(t, "cypress/integration/**/*.spec.js", reg.Spec)
	assert.True(t, reg.Config.Set)
	assert.Equal(t, []kvparse.Pair{
		{Key: "baseUrl", Value: "http://localhost:8080"},
		{Key: "video", Value: "false"},
		{Key: "viewportWidth", Value: "1280"},
	}, reg.Config.Pairs)
	assert.False(t, reg.Env.Set, "env was not written and must stay unset")

	smoke := model.Entries[1]
	assert.Equal(t, "smoke", smoke.Name)
	assert.False(t, smoke.Config.Set)
	assert.Equal(t, []kvparse.Pair{{Key: "FOO", Value: "bar"}, {Key: "BAZ", Value: "qux"}}, smoke.Env.Pairs)
}

func TestLoader_IgnoresProject(t *testing.T) {
	model, err := NewLoader().Load(context.Background(), writeHCL(t, `suite "a" {
  browser = "chrome"
  project = "./"
}`))
	require.NoError(t, err)
	require.Len(t, model.Entries, 1)
	assert.Equal(t, "chrome", model.Entries[0].Browser)
}

func TestLoader_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		errPart string
	}{
		{
			name:    "syntax error",
			content: `suite "a" {`,
			errPart: "failed to parse",
		},
		{
			name:    "unknown attribute",
			content: `suite "a" { browsers = "chrome" }`,
			errPart: "failed to decode",
		},
		{
			name: "duplicate suite",
			content: `
suite "a" { browser = "chrome" }
suite "a" { browser = "firefox" }`,
			errPart: "duplicate suite",
		},
		{
			name:    "list is not accepted",
			content: `suite "a" { config = ["video=false"] }`,
			errPart: "must be a string or an object",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoader().Load(context.Background(), writeHCL(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errPart)
		})
	}
}

func TestLoader_MalformedOverrideString(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), writeHCL(t, `suite "a" { env = "FOO" }`))
	require.Error(t, err)
	var syntaxErr *kvparse.SyntaxError
	require.True(t, errors.As(err, &syntaxErr))
	assert.Equal(t, "env", syntaxErr.Arg)
}
