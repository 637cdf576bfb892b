package hal

import (
	"fmt"

	"github.com/XCopter-HSU/XCopter/pkg"
)

// Interrupt enable and event bits of a CPU FIFO bridge.
const (
	IntAlmostEmpty uint32 = 0x01 // Receive FIFO fell below its low mark
	IntAlmostFull  uint32 = 0x02 // Receive FIFO holds data to read
	IntAll         uint32 = 0x03
)

// Status register bits of a CPU FIFO bridge.
const (
	StatusSendEmpty       uint32 = 0x01
	StatusSendAlmostEmpty uint32 = 0x02
	StatusSendAlmostFull  uint32 = 0x04
	StatusSendFull        uint32 = 0x08
	StatusRecvEmpty       uint32 = 0x10
	StatusRecvAlmostEmpty uint32 = 0x20
	StatusRecvAlmostFull  uint32 = 0x40
	StatusRecvFull        uint32 = 0x80
	StatusAll             uint32 = 0xFF
)

// Bridge is the register interface of one bidirectional CPU FIFO bridge
// between the local node and a neighbor. Every word written to the data
// register appears, in order, in the neighbor's receive FIFO.
//
// WriteData is called by one goroutine at a time and ReadData by the single
// receive task of the link; the other methods are safe for concurrent use.
type Bridge interface {
	// WriteData pushes one word into the send FIFO. It returns
	// iox.ErrWouldBlock when the FIFO is full.
	WriteData(word uint32) error

	// ReadData pops one word from the receive FIFO. It returns
	// iox.ErrWouldBlock when the FIFO is empty.
	ReadData() (uint32, error)

	// SendLevel returns the number of words waiting in the send FIFO.
	SendLevel() int

	// RecvLevel returns the number of words waiting in the receive FIFO.
	RecvLevel() int

	// Status returns the status register.
	Status() uint32

	// Clear discards every word in the receive FIFO.
	Clear()

	// EnableInterrupt arms the events in mask. An armed event fires once
	// on Interrupt and must be re-armed after it is handled.
	EnableInterrupt(mask uint32)

	// Interrupt delivers one value per fired event.
	Interrupt() <-chan struct{}

	// Close releases the bridge. Further reads and writes fail with
	// pkg.ErrClosed.
	Close() error
}

// PDU is one frame reassembled by the physical layer.
type PDU struct {
	// Base is the bridge base address the frame arrived on.
	Base uint32
	// Length is the frame length in bytes.
	Length uint32
	// Data holds Length bytes. It is only valid until the receive callback
	// returns.
	Data []byte
}

// Destination describes the bridge a node uses to reach one neighbor.
type Destination struct {
	Valid bool
	Base  uint32
	IRQ   uint32
}

// Mapping is the static topology of a board: Mapping[n][d] is the bridge
// node n uses to reach node d.
type Mapping [][]Destination

// Default base address of the first bridge of a node and the spacing of the
// following ones.
const (
	DefaultBridgeBase   = 0x04000000
	DefaultBridgeStride = 0x400
)

// DefaultMapping returns a fully connected topology of n nodes. Each node
// numbers its bridges in destination order, starting at DefaultBridgeBase
// with IRQ 1.
func DefaultMapping(n int) Mapping {
	m := make(Mapping, n)
	for node := range m {
		m[node] = make([]Destination, n)
		slot := 0
		for dest := range m[node] {
			if dest == node {
				continue
			}
			m[node][dest] = Destination{
				Valid: true,
				Base:  uint32(DefaultBridgeBase + DefaultBridgeStride*slot),
				IRQ:   uint32(slot + 1),
			}
			slot++
		}
	}
	return m
}

// Nodes returns the number of nodes in the topology.
func (m Mapping) Nodes() int { return len(m) }

// Route returns the bridge node uses to reach dest.
func (m Mapping) Route(node, dest uint32) (Destination, bool) {
	if int(node) >= len(m) || int(dest) >= len(m[node]) {
		return Destination{}, false
	}
	d := m[node][dest]
	return d, d.Valid
}

// Peer returns the neighbor node reaches through the bridge at base.
func (m Mapping) Peer(node, base uint32) (uint32, bool) {
	if int(node) >= len(m) {
		return 0, false
	}
	for dest, d := range m[node] {
		if d.Valid && d.Base == base {
			return uint32(dest), true
		}
	}
	return 0, false
}

// Links returns the neighbors of node in ascending order.
func (m Mapping) Links(node uint32) []uint32 {
	if int(node) >= len(m) {
		return nil
	}
	var peers []uint32
	for dest, d := range m[node] {
		if d.Valid {
			peers = append(peers, uint32(dest))
		}
	}
	return peers
}

// Validate checks that the table is square, that no node links to itself,
// that every link exists in both directions and that the bridges of one
// node have distinct base addresses.
func (m Mapping) Validate() error {
	for node, row := range m {
		if len(row) != len(m) {
			return fmt.Errorf("%w: mapping row %d has %d entries, want %d",
				pkg.ErrInvalidParameter, node, len(row), len(m))
		}
	}
	for node, row := range m {
		bases := make(map[uint32]int, len(row))
		for dest, d := range row {
			if !d.Valid {
				continue
			}
			if dest == node {
				return fmt.Errorf("%w: node %d links to itself", pkg.ErrInvalidParameter, node)
			}
			if !m[dest][node].Valid {
				return fmt.Errorf("%w: link %d->%d has no return path",
					pkg.ErrInvalidParameter, node, dest)
			}
			if prev, ok := bases[d.Base]; ok {
				return fmt.Errorf("%w: node %d uses base %#x for nodes %d and %d",
					pkg.ErrInvalidParameter, node, d.Base, prev, dest)
			}
			bases[d.Base] = dest
		}
	}
	return nil
}
