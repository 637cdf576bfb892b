package mcapi

import (
	"github.com/XCopter-HSU/XCopter/pkg"
)

// MagicNumber tags a pool buffer as in use. A zero tag means free.
const MagicNumber uint32 = 0xdeadcafe

// bufferEntry is one fixed-size slot of the pool.
type bufferEntry struct {
	data   []byte
	magic  uint32
	size   int
	scalar uint64
	// gen changes on every acquire so stale packet buffers are detected.
	gen uint32
}

// bufferPool is the node-wide pool shared by every endpoint. All methods
// require the database lock.
type bufferPool struct {
	entries []bufferEntry
	used    int
}

func newBufferPool(count, size int) bufferPool {
	backing := make([]byte, count*size)
	p := bufferPool{entries: make([]bufferEntry, count)}
	for i := range p.entries {
		p.entries[i].data = backing[i*size : (i+1)*size : (i+1)*size]
	}
	return p
}

// acquire tags the first free slot and returns its index.
func (p *bufferPool) acquire() (int, bool) {
	for i := range p.entries {
		if p.entries[i].magic == 0 {
			p.entries[i].magic = MagicNumber
			p.entries[i].gen++
			p.used++
			return i, true
		}
	}
	return 0, false
}

// release zeroes the slot unconditionally.
func (p *bufferPool) release(i int) {
	b := &p.entries[i]
	if b.magic == MagicNumber {
		p.used--
	}
	clear(b.data[:min(b.size, len(b.data))])
	b.magic = 0
	b.size = 0
	b.scalar = 0
}

// write copies data into the slot's payload area.
func (p *bufferPool) write(i int, data []byte) {
	b := &p.entries[i]
	pkg.Assert(len(data) <= len(b.data), pkg.ComponentDatabase,
		"buffer %d: write of %d bytes exceeds %d", i, len(data), len(b.data))
	b.size = copy(b.data, data)
}

// writeScalar stores a scalar of the given width in bytes.
func (p *bufferPool) writeScalar(i int, v uint64, size int) {
	b := &p.entries[i]
	b.scalar = v
	b.size = size
}

func (p *bufferPool) valid(i int) bool {
	return i >= 0 && i < len(p.entries) && p.entries[i].magic == MagicNumber
}

func (p *bufferPool) bytes(i int) []byte { return p.entries[i].data[:p.entries[i].size] }

func (p *bufferPool) size(i int) int { return p.entries[i].size }

func (p *bufferPool) scalar(i int) uint64 { return p.entries[i].scalar }

func (p *bufferPool) gen(i int) uint32 { return p.entries[i].gen }

// inUse returns the number of tagged slots.
func (p *bufferPool) inUse() int { return p.used }

// PacketBuffer is a system buffer handed out by a packet receive. Data
// aliases pool memory and stays valid until the buffer is returned with
// [Node.PktChanFree].
type PacketBuffer struct {
	Data  []byte
	index int
	gen   uint32
}

// Len returns the packet length in bytes.
func (b PacketBuffer) Len() int { return len(b.Data) }
