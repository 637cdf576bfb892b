package mcapi

import (
	"github.com/XCopter-HSU/XCopter/pkg"
)

// bufferValid tags a slot's buffer index so that index 0 is distinguishable
// from an empty slot.
const bufferValid = 0x80000000

// queueSlot is one ring position of a receive queue.
type queueSlot struct {
	// request holds the reservation of an outstanding receive, or 0.
	request Request
	// buffer is the pool index tagged with bufferValid, or 0.
	buffer uint32
	// invalid marks a hole left by an out-of-order removal.
	invalid bool
}

func (s *queueSlot) hasBuffer() bool { return s.buffer&bufferValid != 0 }

func (s *queueSlot) bufferIndex() int { return int(s.buffer &^ bufferValid) }

// queue is the bounded receive ring of one endpoint. It holds one slot
// more than its capacity so that head == tail always means empty.
//
// Outstanding non-blocking receives reserve slots in issue order. A
// reservation may sit on a slot that has not been filled yet; pop skips
// reserved slots, which can leave holes behind head that compact removes
// once they reach the front.
type queue struct {
	slots       []queueSlot
	head        int
	tail        int
	numElements int
}

func newQueue(capacity int) queue {
	return queue{slots: make([]queueSlot, capacity+1)}
}

func (q *queue) next(i int) int { return (i + 1) % len(q.slots) }

func (q *queue) at(offset int) int { return (q.head + offset) % len(q.slots) }

// full reports whether another push would overwrite head.
func (q *queue) full() bool {
	return q.next(q.tail) == q.head
}

// empty reports whether no slot holds an unreserved buffer.
func (q *queue) empty() bool {
	if q.head == q.tail {
		return true
	}
	for i := range q.slots {
		s := &q.slots[q.at(i)]
		if s.request == 0 && s.hasBuffer() {
			return false
		}
	}
	return true
}

// push claims the tail slot and returns its index.
func (q *queue) push() int {
	pkg.Assert(!q.full(), pkg.ComponentQueue, "push on full queue (head=%d tail=%d)", q.head, q.tail)
	i := q.tail
	q.tail = q.next(q.tail)
	q.numElements++
	pkg.LogDebug(pkg.ComponentQueue, "push", "slot", i, "head", q.head, "tail", q.tail, "elements", q.numElements)
	return i
}

// pop removes the first element from head that holds a buffer and no
// reservation and returns the buffer's pool index. Taking a slot other
// than head leaves a hole.
func (q *queue) pop() int {
	pkg.Assert(q.head != q.tail, pkg.ComponentQueue, "pop on empty queue")
	x := -1
	for i := range q.slots {
		idx := q.at(i)
		if s := &q.slots[idx]; s.request == 0 && s.hasBuffer() {
			x = idx
			break
		}
	}
	pkg.Assert(x >= 0, pkg.ComponentQueue, "pop found only reserved slots")
	b := q.take(x)
	q.remove(x)
	pkg.LogDebug(pkg.ComponentQueue, "pop", "slot", x, "head", q.head, "tail", q.tail, "elements", q.numElements)
	return b
}

// complete releases the reservation on slot i, which must hold a buffer,
// and returns the buffer's pool index.
func (q *queue) complete(i int) int {
	q.slots[i].request = 0
	b := q.take(i)
	q.remove(i)
	return b
}

func (q *queue) remove(x int) {
	q.numElements--
	if x == q.head {
		q.head = q.next(q.head)
	} else {
		q.slots[x].invalid = true
	}
	if q.numElements > 0 {
		pkg.Assert(q.head != q.tail, pkg.ComponentQueue, "%d elements but head == tail", q.numElements)
	}
	q.compact()
}

// available counts the buffers no receive has claimed.
func (q *queue) available() int {
	n := 0
	for i := range q.slots {
		if s := &q.slots[i]; s.request == 0 && s.hasBuffer() {
			n++
		}
	}
	return n
}

// compact advances head over leading slots that hold neither a buffer nor
// a reservation, clearing their hole marker. It stops at tail.
func (q *queue) compact() {
	for q.head != q.tail {
		s := &q.slots[q.head]
		if s.request != 0 || s.hasBuffer() {
			break
		}
		s.invalid = false
		q.head = q.next(q.head)
	}
	if q.numElements > 0 {
		pkg.Assert(q.head != q.tail, pkg.ComponentQueue, "%d elements but head == tail", q.numElements)
	}
}

// reserve records r on the first slot from head that is neither reserved
// nor a hole.
func (q *queue) reserve(r Request) bool {
	for i := range q.slots {
		idx := q.at(i)
		if s := &q.slots[idx]; s.request == 0 && !s.invalid {
			s.request = r
			pkg.LogDebug(pkg.ComponentQueue, "reserve", "slot", idx, "request", uint32(r))
			return true
		}
	}
	return false
}

// find returns the slot reserved by r, or -1.
func (q *queue) find(r Request) int {
	for i := range q.slots {
		if q.slots[i].request == r {
			return i
		}
	}
	return -1
}

// unreserve drops the reservation at slot start and shifts every later
// reservation back by one position so that issue order is kept. The shift
// may move a reservation from a future slot onto a filled one but never
// wraps past head.
func (q *queue) unreserve(start int) {
	q.slots[start].request = 0
	last := start
	for curr := q.next(start); curr != q.head && curr != start; curr = q.next(curr) {
		if q.slots[curr].request != 0 {
			q.slots[last].request = q.slots[curr].request
			q.slots[curr].request = 0
			last = curr
		}
	}
}

// take clears the buffer reference of slot i and returns its pool index.
func (q *queue) take(i int) int {
	s := &q.slots[i]
	pkg.Assert(s.hasBuffer(), pkg.ComponentQueue, "slot %d holds no buffer", i)
	b := s.bufferIndex()
	s.buffer = 0
	return b
}

// drain pops every unreserved element and hands its buffer to free.
func (q *queue) drain(free func(buffer int)) {
	for !q.empty() {
		free(q.pop())
	}
	q.compact()
}
