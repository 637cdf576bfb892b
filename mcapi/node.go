package mcapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/XCopter-HSU/XCopter/pkg"
)

// NodeAttributes describe the local node.
type NodeAttributes struct {
	Name string
}

// Dispatcher is the entry point the routing layer uses to hand remote
// traffic and queries to a node.
type Dispatcher interface {
	// Deliver enqueues data sent by send on the local endpoint recv.
	Deliver(send, recv Endpoint, data []byte) error
	// LookupEndpoint resolves a port of the local node.
	LookupEndpoint(domain, node, port uint32) (Endpoint, error)
	// EndpointChannelIsOpen reports whether a local endpoint is open.
	EndpointChannelIsOpen(ep Endpoint) (bool, error)
}

// Network carries traffic between nodes. Every method may block and
// returns a retryable error (see [pkg.IsRetryable]) when the caller
// should try again later.
type Network interface {
	Start(ctx context.Context, domain, node uint32, d Dispatcher) error
	Close() error
	ResolveEndpoint(ctx context.Context, domain, node, port uint32) (Endpoint, error)
	ChannelIsOpen(ctx context.Context, ep Endpoint) (bool, error)
	SendToRemote(ctx context.Context, send, recv Endpoint, data []byte) error
}

// Node is the runtime of one (domain, node) pair.
type Node struct {
	db  *database
	cfg Config
	net Network

	domain uint32
	node   uint32

	ctx    context.Context
	cancel context.CancelFunc
}

// Initialize builds the database for the given node and starts the
// network, if any. A nil network gives a single-node runtime.
func Initialize(ctx context.Context, domain, node uint32, attrs *NodeAttributes, cfg Config, net Network) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Join(pkg.ErrInvalidParameter, err)
	}

	n := &Node{
		db:     newDatabase(cfg),
		cfg:    cfg,
		net:    net,
		domain: domain,
		node:   node,
	}
	tx := n.db.lock()
	err := tx.initialize(domain, node, attrs)
	tx.unlock()
	if err != nil {
		return nil, err
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	if net != nil {
		if err := net.Start(n.ctx, domain, node, n); err != nil {
			n.cancel()
			if errors.Is(err, pkg.ErrAlreadyRunning) {
				return nil, fmt.Errorf("%w: %w", pkg.ErrAlreadyInitialized, err)
			}
			return nil, err
		}
	}

	pkg.LogInfo(pkg.ComponentNode, "node initialized", "domain", domain, "node", node)
	return n, nil
}

// Finalize stops the network. Every later call on n fails with
// ErrNotInitialized. Outstanding requests and buffers are abandoned.
func (n *Node) Finalize() error {
	tx := n.db.lock()
	if n.db.finalized {
		tx.unlock()
		return pkg.ErrNotInitialized
	}
	n.db.finalized = true
	tx.touch()
	tx.unlock()

	n.cancel()
	var err error
	if n.net != nil {
		err = n.net.Close()
	}
	pkg.LogInfo(pkg.ComponentNode, "node finalized", "domain", n.domain, "node", n.node)
	return err
}

// begin takes the lock for an API call.
func (n *Node) begin() (*locked, error) {
	tx := n.db.lock()
	if n.db.finalized {
		tx.unlock()
		return nil, pkg.ErrNotInitialized
	}
	return tx, nil
}

// NodeID returns the local node number.
func (n *Node) NodeID() uint32 { return n.node }

// DomainID returns the local domain number.
func (n *Node) DomainID() uint32 { return n.domain }

// Config returns the capacities the node was built with.
func (n *Node) Config() Config { return n.cfg }

// Attributes returns the node attributes given to Initialize.
func (n *Node) Attributes() NodeAttributes {
	tx := n.db.lock()
	defer tx.unlock()
	return tx.localNode().attrs
}

// Deliver implements [Dispatcher]. It enqueues data on a local receive
// endpoint. Scalar channels take a 1 to 8 byte little-endian value.
func (n *Node) Deliver(send, recv Endpoint, data []byte) error {
	tx, err := n.begin()
	if err != nil {
		return err
	}
	defer tx.unlock()

	ep, err := tx.endpoint(recv)
	if err != nil {
		return err
	}
	return n.deliver(tx, send, recv, tx.channelType(ep), data)
}

// LookupEndpoint implements [Dispatcher].
func (n *Node) LookupEndpoint(domain, node, port uint32) (Endpoint, error) {
	if domain != n.domain || node != n.node {
		return 0, pkg.ErrInvalidEndpoint
	}
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	defer tx.unlock()
	h, ok := tx.lookup(port)
	if !ok {
		return 0, pkg.ErrInvalidEndpoint
	}
	return h, nil
}

// EndpointChannelIsOpen implements [Dispatcher].
func (n *Node) EndpointChannelIsOpen(ep Endpoint) (bool, error) {
	tx, err := n.begin()
	if err != nil {
		return false, err
	}
	defer tx.unlock()
	e, err := tx.endpoint(ep)
	if err != nil {
		return false, err
	}
	return e.open, nil
}

func (n *Node) maxSize(typ ChannelType) int {
	if typ == ChannelPacket {
		return n.cfg.MaxPktSize
	}
	return n.cfg.MaxMsgSize
}

// remote reports whether h names an endpoint on another node, failing
// with ErrNoRoute when there is no network to reach it.
func (n *Node) remote(tx *locked, h Endpoint) (bool, error) {
	local, err := tx.local(h)
	if err != nil {
		return false, err
	}
	if !local && n.net == nil {
		return false, pkg.ErrNoRoute
	}
	return !local, nil
}
