package fifo

import (
	"encoding/binary"

	"github.com/XCopter-HSU/XCopter/mcapi/hal"
	"github.com/XCopter-HSU/XCopter/pkg"
)

// FrameWords returns the number of FIFO words a frame of n bytes occupies,
// length word included.
func FrameWords(n int) int {
	return 1 + (n+3)/4
}

// EncodeFrame appends one frame to dst: the total length in bytes, the
// header words, then the words of payload covering payloadBytes bytes.
func EncodeFrame(dst []uint32, header, payload []uint32, payloadBytes int) []uint32 {
	n := 4*len(header) + payloadBytes
	dst = append(dst, uint32(n))
	dst = append(dst, header...)
	return append(dst, payload[:(payloadBytes+3)/4]...)
}

// Words packs data into little-endian words appended to dst. The last word
// is zero padded.
func Words(dst []uint32, data []byte) []uint32 {
	for len(data) >= 4 {
		dst = append(dst, binary.LittleEndian.Uint32(data))
		data = data[4:]
	}
	if len(data) > 0 {
		var tail [4]byte
		copy(tail[:], data)
		dst = append(dst, binary.LittleEndian.Uint32(tail[:]))
	}
	return dst
}

// Reassembler rebuilds frames from the word stream of one receive FIFO.
type Reassembler struct {
	base uint32
	max  int
	buf  []byte

	want    int // bytes of the current frame; 0 between frames
	got     int
	discard bool
	dropped int
}

// NewReassembler returns a reassembler for the bridge at base that accepts
// frames of up to maxBytes bytes.
func NewReassembler(base uint32, maxBytes int) *Reassembler {
	return &Reassembler{
		base: base,
		max:  maxBytes,
		buf:  make([]byte, (maxBytes+3)&^3),
	}
}

// Feed consumes one word. It returns a PDU when the word completes a frame.
// The PDU's Data aliases the reassembler's buffer until the next call.
func (r *Reassembler) Feed(word uint32) (hal.PDU, bool) {
	if r.want == 0 {
		if word == 0 {
			return hal.PDU{}, false
		}
		r.want = int(word)
		r.got = 0
		r.discard = r.want > r.max
		if r.discard {
			pkg.LogWarn(pkg.ComponentFIFO, "oversize frame dropped",
				"base", r.base, "length", r.want, "max", r.max)
		}
		return hal.PDU{}, false
	}

	if !r.discard {
		binary.LittleEndian.PutUint32(r.buf[r.got:], word)
	}
	r.got += 4
	if r.got < r.want {
		return hal.PDU{}, false
	}

	n := r.want
	r.want = 0
	if r.discard {
		r.dropped++
		return hal.PDU{}, false
	}
	return hal.PDU{Base: r.base, Length: uint32(n), Data: r.buf[:n]}, true
}

// Dropped returns the number of oversize frames discarded so far.
func (r *Reassembler) Dropped() int { return r.dropped }

// Reset abandons a partially received frame.
func (r *Reassembler) Reset() {
	r.want = 0
	r.got = 0
	r.discard = false
}
