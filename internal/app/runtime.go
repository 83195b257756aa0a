package app

import (
	"os"
	"sync"
)

// TestModeEnv, when "1", makes the binaries exit before opening connections.
const TestModeEnv = "BACKOFFICE_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether runtime side effects should be skipped.
func InTestMode() bool {
	return testMode()
}
