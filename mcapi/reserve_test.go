package mcapi

import "testing"

func TestRequestListReserveRelease(t *testing.T) {
	l := newRequestList(3)
	for want := range 3 {
		i, ok := l.reserve()
		if !ok || i != want {
			t.Fatalf("reserve() = %d, %v, want %d, true", i, ok, want)
		}
	}
	if _, ok := l.reserve(); ok {
		t.Error("reserve() on full list succeeded")
	}
	if l.count != 3 {
		t.Errorf("count = %d, want 3", l.count)
	}

	l.release(1)
	if i, ok := l.reserve(); !ok || i != 1 {
		t.Errorf("reserve() after release(1) = %d, %v", i, ok)
	}
}

func TestRequestListEach(t *testing.T) {
	l := newRequestList(4)
	for range 4 {
		l.reserve()
	}
	l.release(0)
	l.release(2)

	got := make(map[int]bool)
	l.each(func(i int) bool {
		got[i] = true
		return true
	})
	if len(got) != 2 || !got[1] || !got[3] {
		t.Errorf("each() visited %v, want {1, 3}", got)
	}

	calls := 0
	l.each(func(int) bool {
		calls++
		return false
	})
	if calls != 1 {
		t.Errorf("each() after false made %d calls, want 1", calls)
	}
}
