package mcapi

// requestList tracks free and in-use request slots as two intrusive
// doubly-linked lists over fixed index arrays, so reserve and release are
// O(1) without scanning the request table.
type requestList struct {
	next  []int
	prev  []int
	free  int // head of the free list, -1 when exhausted
	used  int // head of the in-use list, -1 when idle
	count int // number of slots in use
}

func newRequestList(n int) requestList {
	l := requestList{
		next: make([]int, n),
		prev: make([]int, n),
		free: 0,
		used: -1,
	}
	for i := range n {
		l.next[i] = i + 1
		l.prev[i] = i - 1
	}
	l.next[n-1] = -1
	return l
}

// reserve moves the head of the free list to the in-use list.
func (l *requestList) reserve() (int, bool) {
	i := l.free
	if i < 0 {
		return 0, false
	}
	l.unlink(i, &l.free)
	l.link(i, &l.used)
	l.count++
	return i, true
}

// release returns slot i to the free list.
func (l *requestList) release(i int) {
	l.unlink(i, &l.used)
	l.link(i, &l.free)
	l.count--
}

// each calls fn for every slot in use until fn returns false.
func (l *requestList) each(fn func(i int) bool) {
	for i := l.used; i >= 0; {
		next := l.next[i]
		if !fn(i) {
			return
		}
		i = next
	}
}

func (l *requestList) unlink(i int, head *int) {
	if l.prev[i] >= 0 {
		l.next[l.prev[i]] = l.next[i]
	} else {
		*head = l.next[i]
	}
	if l.next[i] >= 0 {
		l.prev[l.next[i]] = l.prev[i]
	}
	l.next[i], l.prev[i] = -1, -1
}

func (l *requestList) link(i int, head *int) {
	l.prev[i] = -1
	l.next[i] = *head
	if *head >= 0 {
		l.prev[*head] = i
	}
	*head = i
}
