package fifo

import (
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"

	"github.com/XCopter-HSU/XCopter/mcapi/hal"
	"github.com/XCopter-HSU/XCopter/pkg"
)

// irqLine is the interrupt output of one receive FIFO. Events fire only
// while enabled and disarm themselves when they do.
type irqLine struct {
	mutex   sync.Mutex
	enabled uint32
	ch      chan struct{}
}

func newIRQLine() *irqLine {
	return &irqLine{ch: make(chan struct{}, 1)}
}

// raise fires event if it is armed.
func (l *irqLine) raise(event uint32) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.fireLocked(event)
}

func (l *irqLine) fireLocked(event uint32) {
	if l.enabled&event == 0 {
		return
	}
	l.enabled &^= event
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// enable arms mask. Data already waiting fires at once, as the hardware
// keeps the almost-full line asserted while the FIFO is not empty.
func (l *irqLine) enable(mask uint32, waiting bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.enabled |= mask
	if waiting {
		l.fireLocked(hal.IntAlmostFull)
	}
}

// wire is one direction of a bridge: a bounded word FIFO with exactly one
// writer and one reader, plus the reader's interrupt line.
type wire struct {
	q       lfq.SPSC[uint32]
	depth   uint32
	written atomix.Uint32
	read    atomix.Uint32
	irq     *irqLine
}

func newWire(depth int) *wire {
	w := &wire{depth: uint32(depth), irq: newIRQLine()}
	w.q.Init(depth)
	return w
}

// level returns the words waiting in the FIFO.
func (w *wire) level() uint32 {
	return w.written.Load() - w.read.Load()
}

func (w *wire) push(word uint32) error {
	if w.level() >= w.depth {
		return iox.ErrWouldBlock
	}
	if err := w.q.Enqueue(&word); err != nil {
		return err
	}
	w.written.Add(1)
	w.irq.raise(hal.IntAlmostFull)
	return nil
}

func (w *wire) pop() (uint32, error) {
	word, err := w.q.Dequeue()
	if err != nil {
		return 0, err
	}
	w.read.Add(1)
	return word, nil
}

// MemBridge is a [hal.Bridge] between two nodes of an in-memory [Fabric].
type MemBridge struct {
	fabric *Fabric
	key    [2]uint32
	send   *wire
	recv   *wire
	closed atomix.Uint32
}

var _ hal.Bridge = (*MemBridge)(nil)

// WriteData implements [hal.Bridge].
func (b *MemBridge) WriteData(word uint32) error {
	if b.closed.Load() != 0 {
		return pkg.ErrClosed
	}
	return b.send.push(word)
}

// ReadData implements [hal.Bridge].
func (b *MemBridge) ReadData() (uint32, error) {
	if b.closed.Load() != 0 {
		return 0, pkg.ErrClosed
	}
	return b.recv.pop()
}

// SendLevel implements [hal.Bridge].
func (b *MemBridge) SendLevel() int { return int(b.send.level()) }

// RecvLevel implements [hal.Bridge].
func (b *MemBridge) RecvLevel() int { return int(b.recv.level()) }

// Status implements [hal.Bridge].
func (b *MemBridge) Status() uint32 {
	return levelStatus(b.send.level(), b.send.depth, 0) |
		levelStatus(b.recv.level(), b.recv.depth, 4)
}

// levelStatus encodes the four fill flags of one FIFO at bit offset shift.
func levelStatus(level, depth uint32, shift int) uint32 {
	var s uint32
	switch {
	case level == 0:
		s |= hal.StatusSendEmpty | hal.StatusSendAlmostEmpty
	case level < depth/4:
		s |= hal.StatusSendAlmostEmpty
	}
	if level >= depth*3/4 {
		s |= hal.StatusSendAlmostFull
	}
	if level >= depth {
		s |= hal.StatusSendFull
	}
	return s << shift
}

// Clear implements [hal.Bridge]. It must run on the receiving goroutine.
func (b *MemBridge) Clear() {
	for {
		if _, err := b.recv.pop(); err != nil {
			return
		}
	}
}

// EnableInterrupt implements [hal.Bridge].
func (b *MemBridge) EnableInterrupt(mask uint32) {
	b.recv.irq.enable(mask, b.recv.level() > 0)
}

// Interrupt implements [hal.Bridge].
func (b *MemBridge) Interrupt() <-chan struct{} { return b.recv.irq.ch }

// Close implements [hal.Bridge].
func (b *MemBridge) Close() error {
	if b.closed.Add(1) != 1 {
		return pkg.ErrClosed
	}
	b.fabric.release(b.key)
	return nil
}

// Fabric is an in-memory board: one pair of word FIFOs for every link of a
// mapping. Each node's physical layer opens its bridges from the fabric.
type Fabric struct {
	mapping hal.Mapping
	cfg     Config

	mutex sync.Mutex
	wires map[[2]uint32]*wire
	open  map[[2]uint32]bool
}

var _ BridgeSource = (*Fabric)(nil)

// NewFabric returns a fabric wired after mapping with FIFOs of cfg.Depth
// words.
func NewFabric(mapping hal.Mapping, cfg Config) *Fabric {
	return &Fabric{
		mapping: mapping,
		cfg:     cfg,
		wires:   make(map[[2]uint32]*wire),
		open:    make(map[[2]uint32]bool),
	}
}

// Open implements [BridgeSource]. A bridge stays exclusive to one opener
// until it is closed.
func (f *Fabric) Open(node, peer uint32, dst hal.Destination) (hal.Bridge, error) {
	if _, ok := f.mapping.Route(node, peer); !ok {
		return nil, fmt.Errorf("%w: %d->%d", pkg.ErrNoRoute, node, peer)
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	key := [2]uint32{node, peer}
	if f.open[key] {
		return nil, fmt.Errorf("bridge %d->%d: %w", node, peer, pkg.ErrAlreadyRunning)
	}
	f.open[key] = true

	pkg.LogDebug(pkg.ComponentFIFO, "bridge opened", "node", node, "peer", peer, "base", dst.Base)
	return &MemBridge{
		fabric: f,
		key:    key,
		send:   f.wire(node, peer),
		recv:   f.wire(peer, node),
	}, nil
}

// wire returns the FIFO carrying words from one node to another.
func (f *Fabric) wire(from, to uint32) *wire {
	key := [2]uint32{from, to}
	w, ok := f.wires[key]
	if !ok {
		w = newWire(f.cfg.Depth)
		f.wires[key] = w
	}
	return w
}

func (f *Fabric) release(key [2]uint32) {
	f.mutex.Lock()
	delete(f.open, key)
	f.mutex.Unlock()
}
