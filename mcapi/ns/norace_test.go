//go:build !race

package ns

import "testing"

func skipRace(testing.TB) {}
