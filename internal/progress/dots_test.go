package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/specialistvlad/saucegrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDots_PrintsUntilStopped(t *testing.T) {
	// --- Arrange ---
	out := &testutil.SafeBuffer{}

	// --- Act ---
	d := Start(out, 2*time.Millisecond)
	require.Eventually(t, func() bool {
		return strings.Count(out.String(), ".") >= 3
	}, 2*time.Second, time.Millisecond)
	d.Stop()
	stopped := out.String()
	time.Sleep(10 * time.Millisecond)

	// --- Assert ---
	assert.Equal(t, stopped, out.String(), "nothing is printed after Stop")
	assert.True(t, strings.HasSuffix(stopped, "\n"))
	assert.Equal(t, "", strings.Trim(stopped, ".\n"))
}

func TestDots_StopIsIdempotent(t *testing.T) {
	d := Start(&testutil.SafeBuffer{}, time.Hour)
	d.Stop()
	d.Stop()
}

func TestDots_NoNewlineWithoutDots(t *testing.T) {
	out := &testutil.SafeBuffer{}
	d := Start(out, time.Hour)
	d.Stop()
	assert.Empty(t, out.String())
}

func TestStartIfTerminal_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	d := StartIfTerminal(&buf, time.Millisecond)
	assert.Nil(t, d)
	d.Stop()
	assert.False(t, IsTerminal(&buf))
}
