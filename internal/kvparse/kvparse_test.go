package kvparse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name      string
		input     string
		expected  []Pair
		badToken  string
		expectErr bool
	}{
		{
			name:     "empty string",
			input:    "",
			expected: nil,
		},
		{
			name:     "single pair",
			input:    "baseUrl=http://localhost:8080",
			expected: []Pair{{Key: "baseUrl", Value: "http://localhost:8080"}},
		},
		{
			name:  "multiple pairs keep order and trim",
			input: " video=false , viewportWidth=1280,",
			expected: []Pair{
				{Key: "video", Value: "false"},
				{Key: "viewportWidth", Value: "1280"},
			},
		},
		{
			name:     "value containing equals sign",
			input:    "query=a=b",
			expected: []Pair{{Key: "query", Value: "a=b"}},
		},
		{
			name:      "error - missing equals",
			input:     "video",
			expectErr: true,
			badToken:  "video",
		},
		{
			name:      "error - empty value",
			input:     "a=1,b=",
			expectErr: true,
			badToken:  "b=",
		},
		{
			name:      "error - empty key",
			input:     "=1",
			expectErr: true,
			badToken:  "=1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pairs, err := Parse("config", tc.input)
			if tc.expectErr {
				require.Error(t, err)
				var syntaxErr *SyntaxError
				require.True(t, errors.As(err, &syntaxErr), "expected a *SyntaxError, got %T", err)
				assert.Equal(t, "config", syntaxErr.Arg)
				assert.Equal(t, tc.badToken, syntaxErr.Token)
				assert.Contains(t, err.Error(), "separated by = sign")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, pairs)
		})
	}
}

func TestToMap_LaterKeysWin(t *testing.T) {
	m := ToMap([]Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}, {Key: "a", Value: "3"}})
	assert.Equal(t, map[string]string{"a": "3", "b": "2"}, m)
	assert.Nil(t, ToMap(nil))
}

func TestString_RoundTrip(t *testing.T) {
	pairs, err := Parse("env", "FOO=bar,BAZ=qux")
	require.NoError(t, err)
	assert.Equal(t, "FOO=bar,BAZ=qux", String(pairs))
}
