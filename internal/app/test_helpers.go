package app

import (
	"os"
	"testing"
	"time"

	"github.com/specialistvlad/saucegrid/internal/sauce"
	"github.com/specialistvlad/saucegrid/internal/testutil"
)

// SetupAppTest creates an App talking to fake for system tests. Polling and
// build discovery are shortened so a run completes in milliseconds.
func SetupAppTest(t *testing.T, cfg Config, fake *testutil.FakeSauce) (*App, *testutil.SafeBuffer) {
	t.Helper()

	if cfg.Credentials == (sauce.Credentials{}) {
		cfg.Credentials = sauce.Credentials{Username: fake.Username, AccessKey: fake.AccessKey}
	}
	cfg.APIURL = fake.URL()
	cfg.LogLevel = "debug"
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.BuildRetryInterval == 0 {
		cfg.BuildRetryInterval = time.Millisecond
	}

	valid, err := NewConfig(cfg)
	if err != nil {
		t.Fatalf("invalid test configuration: %v", err)
	}

	logBuffer := &testutil.SafeBuffer{}
	testApp := NewApp(logBuffer, valid)
	t.Cleanup(testApp.Close)

	t.Cleanup(func() {
		if os.Getenv("SAUCEGRID_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
