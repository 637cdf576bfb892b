//go:build !race

package fifo

import "testing"

func skipRace(testing.TB) {}
