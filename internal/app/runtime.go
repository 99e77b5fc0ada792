package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "LEDGER_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether LEDGER_TEST_MODE asks the binaries to start
// without touching PostgreSQL or Redis. The variable is read once.
func InTestMode() bool {
	if on := testMode.Load(); on != nil {
		return *on
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads LEDGER_TEST_MODE and returns the new value.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(&on)
	return on
}
