package supervisor

import (
	"context"
	"os"
	"testing"

	"github.com/loykin/frpmon/internal/watchdog"
)

// watchdogEnv makes the test binary act as the watchdog when re-executed.
const watchdogEnv = "FRPMON_TEST_AS_WATCHDOG"

func TestMain(m *testing.M) {
	if os.Getenv(watchdogEnv) == "1" {
		opts := watchdog.Options{}
		watchdog.Run(context.Background(), os.Stdin, watchdog.NewTerminator(opts), opts)
		os.Exit(0)
	}
	os.Exit(m.Run())
}
