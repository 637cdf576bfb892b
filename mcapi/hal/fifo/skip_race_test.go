//go:build race

package fifo

import "testing"

// skipRace skips tests that move words through lfq SPSC queues. The race
// detector cannot see the queue's cross-variable memory ordering and
// reports false positives.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: SPSC uses cross-variable memory ordering")
}
