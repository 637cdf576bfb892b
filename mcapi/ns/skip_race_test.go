//go:build race

package ns

import "testing"

// skipRace skips tests that run a board on the in-memory fabric. Its word
// FIFOs are lfq SPSC queues, whose cross-variable memory ordering the race
// detector cannot see.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: SPSC uses cross-variable memory ordering")
}
