package mcapi

import "fmt"

// Endpoint is an opaque endpoint handle. It packs the domain, node and
// endpoint table indices into one integer, most significant first. The
// bits above them carry the generation of the endpoint slot, so a handle
// to a deleted endpoint does not reach a later one in the same slot.
type Endpoint uint32

// Request is an opaque handle to an outstanding non-blocking operation.
// The zero value names no request.
type Request uint32

// Handle layout.
const (
	genShift    = 24
	domainShift = 16
	nodeShift   = 8
	fieldMask   = 0xFF
	genMask     = 0x7F

	// requestValid marks request handles so they never collide with
	// endpoint handles.
	requestValid = 0x80000000
)

// String formats the handle as domain:node:endpoint, followed by /gen for
// a reused slot.
func (h Endpoint) String() string {
	s := fmt.Sprintf("%d:%d:%d", uint32(h)>>domainShift&fieldMask,
		uint32(h)>>nodeShift&fieldMask, uint32(h)&fieldMask)
	if g := h.Generation(); g != 0 {
		s += fmt.Sprintf("/%d", g)
	}
	return s
}

// Domain returns the domain field without bounds checking.
func (h Endpoint) Domain() uint32 { return uint32(h) >> domainShift & fieldMask }

// Node returns the node field without bounds checking.
func (h Endpoint) Node() uint32 { return uint32(h) >> nodeShift & fieldMask }

// Generation returns the slot generation field.
func (h Endpoint) Generation() uint32 { return uint32(h) >> genShift & genMask }

// Codec encodes and decodes handles against the table capacities of one
// database. Decoding never panics; out-of-range fields report !ok.
type Codec struct {
	domains   int
	nodes     int
	endpoints int
	requests  int
}

// NewCodec returns a codec for the given table capacities.
func NewCodec(domains, nodes, endpoints, requests int) Codec {
	return Codec{domains: domains, nodes: nodes, endpoints: endpoints, requests: requests}
}

// Endpoint packs the indices with generation 0. Callers pass indices
// already known to be in range.
func (c Codec) Endpoint(d, n, e int) Endpoint {
	return c.EndpointGen(d, n, e, 0)
}

// EndpointGen packs the indices and a slot generation. The generation
// wraps at 128.
func (c Codec) EndpointGen(d, n, e int, gen uint32) Endpoint {
	return Endpoint((gen&genMask)<<genShift | uint32(d&fieldMask)<<domainShift |
		uint32(n&fieldMask)<<nodeShift | uint32(e&fieldMask))
}

// DecodeEndpoint unpacks h and checks each field against its table. The
// generation is not checked; only the owner of the slot knows it.
func (c Codec) DecodeEndpoint(h Endpoint) (d, n, e int, ok bool) {
	if uint32(h)&requestValid != 0 {
		return 0, 0, 0, false
	}
	d = int(uint32(h) >> domainShift & fieldMask)
	n = int(uint32(h) >> nodeShift & fieldMask)
	e = int(uint32(h) & fieldMask)
	if d >= c.domains || n >= c.nodes || e >= c.endpoints {
		return 0, 0, 0, false
	}
	return d, n, e, true
}

// Request encodes a request table index.
func (c Codec) Request(i int) Request {
	return Request(requestValid | uint32(i))
}

// DecodeRequest returns the table index of r. The top bit must be set and
// the index must be inside the request table.
func (c Codec) DecodeRequest(r Request) (int, bool) {
	if uint32(r)&requestValid == 0 {
		return 0, false
	}
	i := int(uint32(r) &^ requestValid)
	if i >= c.requests {
		return 0, false
	}
	return i, true
}
