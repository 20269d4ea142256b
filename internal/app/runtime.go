package app

import (
	"os"
	"sync"
)

// TestModeEnv makes the mains return before binding ports or dialing Redis.
const TestModeEnv = "CLOSEFLOW_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether TestModeEnv was set when first asked.
func InTestMode() bool {
	return testMode()
}
