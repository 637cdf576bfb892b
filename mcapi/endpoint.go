package mcapi

import (
	"context"
	"fmt"
	"time"

	"github.com/XCopter-HSU/XCopter/pkg"
)

// PortAny asks EndpointCreate for an anonymous port.
const PortAny = ^uint32(0)

// anonymousPortBase is the first port handed out for PortAny.
const anonymousPortBase = 0x8000

// EndpointAttributes are the settable properties of an endpoint.
type EndpointAttributes struct {
	Priority Priority
	Timeout  time.Duration
}

// Attribute names one endpoint attribute.
type Attribute uint8

// Endpoint attributes. The last three are read-only.
const (
	AttrPriority             Attribute = iota // Message priority
	AttrTimeout                               // Default timeout in milliseconds
	AttrNumRecvBuffers                        // Receive queue capacity
	AttrRecvBuffersAvailable                  // Free receive queue slots
	AttrMaxPayloadSize                        // Largest message or packet
)

// EndpointCreate binds a new endpoint to port on the local node.
func (n *Node) EndpointCreate(port uint32) (Endpoint, error) {
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	defer tx.unlock()

	anonymous := port == PortAny
	if anonymous {
		port = tx.freePort()
	} else if _, ok := tx.lookup(port); ok {
		return 0, fmt.Errorf("%w: port %d", pkg.ErrEndpointExists, port)
	}

	node := tx.localNode()
	for e := range node.endpoints {
		ep := &node.endpoints[e]
		if ep.valid {
			continue
		}
		ep.valid = true
		ep.port = port
		ep.anonymous = anonymous
		ep.open = false
		ep.connected = false
		ep.channel = 0
		ep.attrs = EndpointAttributes{}
		node.numEndpoints++

		h := tx.db.codec.EndpointGen(int(tx.db.domain), int(tx.db.node), e, ep.gen)
		pkg.LogDebug(pkg.ComponentTransport, "endpoint created", "endpoint", h, "port", port, "anonymous", anonymous)
		return h, nil
	}
	return 0, pkg.ErrEndpointLimit
}

// freePort returns the lowest anonymous port not in use.
func (tx *locked) freePort() uint32 {
	for port := uint32(anonymousPortBase); ; port++ {
		if _, ok := tx.lookup(port); !ok {
			return port
		}
	}
}

// EndpointGetI resolves (domain, node, port) without blocking. The
// request completes, writing *out, once the endpoint exists.
func (n *Node) EndpointGetI(domain, node, port uint32, out *Endpoint) (Request, error) {
	if out == nil {
		return 0, pkg.ErrInvalidParameter
	}
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	defer tx.unlock()

	if int(domain) >= n.cfg.MaxDomains || int(node) >= n.cfg.MaxNodes {
		return 0, fmt.Errorf("%w: node %d:%d out of range", pkg.ErrInvalidParameter, domain, node)
	}
	if !tx.isLocal(int(domain), int(node)) && n.net == nil {
		return 0, pkg.ErrNoRoute
	}
	req, err := tx.reserveRequest(requestGetEndpoint)
	if err != nil {
		return 0, err
	}
	req.getDomain = domain
	req.getNode = node
	req.getPort = port
	req.epOut = out
	if n.remoteCheck(tx, req) == nil {
		tx.check(req)
	}
	return req.handle, nil
}

// EndpointGet blocks until (domain, node, port) exists and returns its
// handle.
func (n *Node) EndpointGet(ctx context.Context, domain, node, port uint32) (Endpoint, error) {
	var h Endpoint
	_, err := n.block(ctx, func() (Request, error) {
		return n.EndpointGetI(domain, node, port, &h)
	})
	return h, err
}

// EndpointDelete removes a local endpoint. A connected endpoint must be
// closed first. Queued data is freed and pending receives fail with
// ErrInvalidEndpoint.
func (n *Node) EndpointDelete(h Endpoint) error {
	tx, err := n.begin()
	if err != nil {
		return err
	}
	defer tx.unlock()

	ep, err := tx.endpoint(h)
	if err != nil {
		return err
	}
	if ep.connected {
		return fmt.Errorf("%w: %v", pkg.ErrChannelConnected, h)
	}
	tx.abortReceives(h, pkg.StatusInvalidEndpoint)
	ep.queue.drain(tx.db.buffers.release)

	q := ep.queue
	clear(q.slots)
	*ep = endpointEntry{gen: (ep.gen + 1) & genMask, queue: queue{slots: q.slots}}
	tx.localNode().numEndpoints--
	tx.touch()
	pkg.LogDebug(pkg.ComponentTransport, "endpoint deleted", "endpoint", h)
	return nil
}

// EndpointGetAttribute reads one attribute of a local endpoint.
func (n *Node) EndpointGetAttribute(h Endpoint, attr Attribute) (uint64, error) {
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	defer tx.unlock()

	ep, err := tx.endpoint(h)
	if err != nil {
		return 0, err
	}
	switch attr {
	case AttrPriority:
		return uint64(ep.attrs.Priority), nil
	case AttrTimeout:
		return uint64(ep.attrs.Timeout / time.Millisecond), nil
	case AttrNumRecvBuffers:
		return uint64(n.cfg.MaxQueueElements), nil
	case AttrRecvBuffersAvailable:
		free := n.cfg.MaxQueueElements - ep.queue.numElements
		return uint64(max(free, 0)), nil
	case AttrMaxPayloadSize:
		return uint64(n.cfg.bufferSize()), nil
	}
	return 0, fmt.Errorf("%w: attribute %d", pkg.ErrInvalidParameter, attr)
}

// EndpointSetAttribute writes one attribute of a local endpoint. The
// endpoint must not be connected.
func (n *Node) EndpointSetAttribute(h Endpoint, attr Attribute, value uint64) error {
	tx, err := n.begin()
	if err != nil {
		return err
	}
	defer tx.unlock()

	ep, err := tx.endpoint(h)
	if err != nil {
		return err
	}
	if ep.connected {
		return pkg.ErrChannelConnected
	}
	switch attr {
	case AttrPriority:
		ep.attrs.Priority = Priority(value)
	case AttrTimeout:
		ep.attrs.Timeout = time.Duration(value) * time.Millisecond
	default:
		return fmt.Errorf("%w: attribute %d is read-only", pkg.ErrInvalidParameter, attr)
	}
	return nil
}

// ValidEndpoint reports whether h names an existing local endpoint.
func (n *Node) ValidEndpoint(h Endpoint) bool {
	tx, err := n.begin()
	if err != nil {
		return false
	}
	defer tx.unlock()
	_, err = tx.endpoint(h)
	return err == nil
}

// ValidEndpoints reports whether both handles name existing local
// endpoints.
func (n *Node) ValidEndpoints(a, b Endpoint) bool {
	return n.ValidEndpoint(a) && n.ValidEndpoint(b)
}

// EndpointIsOwner reports whether h decodes to the local node.
func (n *Node) EndpointIsOwner(h Endpoint) bool {
	tx, err := n.begin()
	if err != nil {
		return false
	}
	defer tx.unlock()
	local, err := tx.local(h)
	return err == nil && local
}
