package ns

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/XCopter-HSU/XCopter/mcapi"
	"github.com/XCopter-HSU/XCopter/pkg"
)

// kind is the first word of every routing frame.
type kind uint32

// Frame kinds. Every request kind is answered by the kind that follows it.
const (
	kindData       kind = iota + 1 // Payload for a remote endpoint
	kindDataAck                    // Receiver's enqueue status
	kindResolve                    // Look up (domain, node, port)
	kindResolveAck                 // Endpoint handle or not found
	kindIsOpen                     // Query the open flag of an endpoint
	kindIsOpenAck                  // Open flag
)

func (k kind) String() string {
	switch k {
	case kindData:
		return "data"
	case kindDataAck:
		return "data-ack"
	case kindResolve:
		return "resolve"
	case kindResolveAck:
		return "resolve-ack"
	case kindIsOpen:
		return "is-open"
	case kindIsOpenAck:
		return "is-open-ack"
	default:
		return fmt.Sprintf("kind(%d)", uint32(k))
	}
}

func (k kind) isAck() bool { return k == kindDataAck || k == kindResolveAck || k == kindIsOpenAck }

// headerWords is the size of the routing header in words.
const headerWords = 4

// HeaderSize is the size of the routing header in bytes.
const HeaderSize = 4 * headerWords

// header precedes the body of every routing frame:
//
//	| kind | call id | send endpoint | recv endpoint | body ...
type header struct {
	kind kind
	call uint32
	send mcapi.Endpoint
	recv mcapi.Endpoint
}

func (h header) words() []uint32 {
	return []uint32{uint32(h.kind), h.call, uint32(h.send), uint32(h.recv)}
}

// parseHeader splits a frame into its header and body. The body aliases
// data.
func parseHeader(data []byte) (header, []byte, error) {
	if len(data) < HeaderSize {
		return header{}, nil, fmt.Errorf("%w: routing frame of %d bytes", pkg.ErrInvalidParameter, len(data))
	}
	h := header{
		kind: kind(binary.LittleEndian.Uint32(data[0:])),
		call: binary.LittleEndian.Uint32(data[4:]),
		send: mcapi.Endpoint(binary.LittleEndian.Uint32(data[8:])),
		recv: mcapi.Endpoint(binary.LittleEndian.Uint32(data[12:])),
	}
	if h.kind < kindData || h.kind > kindIsOpenAck {
		return header{}, nil, fmt.Errorf("%w: routing frame %v", pkg.ErrInvalidParameter, h.kind)
	}
	return h, data[HeaderSize:], nil
}

// resolveBody is the body of a resolve request.
type resolveBody struct {
	Domain uint32 `msgpack:"d"`
	Node   uint32 `msgpack:"n"`
	Port   uint32 `msgpack:"p"`
}

// ack is the body of every acknowledgement.
type ack struct {
	Status   pkg.Status `msgpack:"s"`
	Endpoint uint32     `msgpack:"e,omitempty"`
	Open     bool       `msgpack:"o,omitempty"`
}

func encodeBody(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func decodeBody(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode routing body: %w", err)
	}
	return nil
}
