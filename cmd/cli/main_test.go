package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/specialistvlad/saucegrid/internal/app"
	"github.com/specialistvlad/saucegrid/internal/cli"
	"github.com/specialistvlad/saucegrid/internal/scheduler"
	"github.com/specialistvlad/saucegrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_EndToEnd(t *testing.T) {
	// --- Arrange ---
	fake := testutil.NewFakeSauce(t)
	t.Setenv(cli.EnvUsername, fake.Username)
	t.Setenv(cli.EnvAccessKey, fake.AccessKey)
	root := testutil.WriteProject(t, map[string]string{
		"cypress.json":                  "{}",
		"cypress/integration/a.spec.js": "",
	})
	args := []string{
		"--sauce-api-url", fake.URL(),
		"--sauce-poll-interval", "1ms",
		"--browser", "chrome,firefox",
		"--log-level", "debug",
		root,
	}
	out := &testutil.SafeBuffer{}

	// --- Act ---
	err := run(context.Background(), out, args)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode(&bytes.Buffer{}, err))
	assert.Len(t, fake.Submitted(), 2)
	assert.Contains(t, out.String(), "All passed")
}

func TestRun_ShouldExit(t *testing.T) {
	// --- Arrange ---
	// The "-h" (help) flag should cause cli.Parse to return `shouldExit=true`.
	args := []string{"-h"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, args)

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	// --- Arrange ---
	args := []string{"--this-is-not-a-valid-flag"}
	out := &bytes.Buffer{}

	// --- Act ---
	err := run(context.Background(), out, args)

	// --- Assert ---
	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
	assert.Equal(t, 2, exitCode(&bytes.Buffer{}, err))
}

func TestRun_MissingCredentials(t *testing.T) {
	t.Setenv(cli.EnvUsername, "")
	t.Setenv(cli.EnvAccessKey, "")

	err := run(context.Background(), &bytes.Buffer{}, []string{t.TempDir()})

	require.Error(t, err)
	assert.Equal(t, 2, exitCode(&bytes.Buffer{}, err))
}

func TestExitCode(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected int
		printed  string
	}{
		{"success", nil, 0, ""},
		{"usage", &cli.ExitError{Code: 2, Message: "bad flag"}, 2, "bad flag\n"},
		{"configuration", fmt.Errorf("loading: %w", &app.ConfigError{Err: errors.New("no browser")}), 2, "loading: no browser\n"},
		{"suite failed", &scheduler.SuiteFailedError{Index: 0, Name: "SUITE 1 of 1"}, 1, "your suites did not pass: SUITE 1 of 1\n"},
		{"runtime", errors.New("connection refused"), 1, "connection refused\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			errW := &bytes.Buffer{}
			assert.Equal(t, tc.expected, exitCode(errW, tc.err))
			assert.Equal(t, tc.printed, errW.String())
		})
	}
}
