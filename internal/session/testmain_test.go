package session_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no session or pump goroutine outlives its test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
