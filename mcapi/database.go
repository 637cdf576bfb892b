package mcapi

import (
	"sync"

	"github.com/XCopter-HSU/XCopter/pkg"
)

// ChannelType identifies the kind of a connected channel.
type ChannelType uint8

// Channel types.
const (
	ChannelNone   ChannelType = iota // No channel; endpoint used for messages
	ChannelPacket                    // Packet channel
	ChannelScalar                    // Scalar channel
)

// String returns the channel type name.
func (t ChannelType) String() string {
	switch t {
	case ChannelPacket:
		return "packet"
	case ChannelScalar:
		return "scalar"
	default:
		return "none"
	}
}

// channel is shared by the local endpoints at either end. When one end
// lives on another node only its handle is recorded here.
type channel struct {
	inUse bool
	typ   ChannelType
	send  Endpoint
	recv  Endpoint
}

type endpointEntry struct {
	port      uint32
	gen       uint32 // generation of the handle naming this slot
	valid     bool
	anonymous bool
	open      bool
	connected bool
	attrs     EndpointAttributes
	// channel is the index of the channel entry plus one, or 0.
	channel int
	queue   queue
}

type nodeEntry struct {
	id           uint32
	valid        bool
	attrs        NodeAttributes
	numEndpoints int
	endpoints    []endpointEntry
}

type domainEntry struct {
	id       uint32
	valid    bool
	numNodes int
	nodes    []nodeEntry
}

// database is the single shared table of a node. Nothing outside this
// file reaches its fields except through a *locked token.
type database struct {
	mutex sync.Mutex
	token locked

	codec    Codec
	cfg      Config
	domains  []domainEntry
	buffers  bufferPool
	requests []request
	reserves requestList
	channels []channel

	// local identity
	domain uint32
	node   uint32

	finalized bool

	// changed is closed and replaced whenever a mutation may let a waiter
	// make progress.
	notifyMutex sync.Mutex
	changed     chan struct{}
}

func newDatabase(cfg Config) *database {
	db := &database{
		codec:    NewCodec(cfg.MaxDomains, cfg.MaxNodes, cfg.MaxEndpoints, cfg.MaxRequests),
		cfg:      cfg,
		domains:  make([]domainEntry, cfg.MaxDomains),
		buffers:  newBufferPool(cfg.MaxBuffers, cfg.bufferSize()),
		requests: make([]request, cfg.MaxRequests),
		reserves: newRequestList(cfg.MaxRequests),
		channels: make([]channel, cfg.MaxEndpoints),
		changed:  make(chan struct{}),
	}
	db.token.db = db
	return db
}

// lock acquires the global lock and returns the token that grants access
// to the tables. The token is valid until unlock.
func (db *database) lock() *locked {
	db.mutex.Lock()
	db.token.held = true
	return &db.token
}

// notifier returns a channel that is closed after the next mutation that
// may complete a request or free a resource.
func (db *database) notifier() <-chan struct{} {
	db.notifyMutex.Lock()
	defer db.notifyMutex.Unlock()
	return db.changed
}

// locked is the proof of holding the database lock. Every operation that
// reads or writes shared state is a method on *locked.
type locked struct {
	db    *database
	held  bool
	dirty bool
}

// unlock releases the lock and wakes waiters if state changed.
func (tx *locked) unlock() {
	tx.mustHold()
	dirty := tx.dirty
	tx.dirty = false
	tx.held = false
	tx.db.mutex.Unlock()
	if dirty {
		db := tx.db
		db.notifyMutex.Lock()
		close(db.changed)
		db.changed = make(chan struct{})
		db.notifyMutex.Unlock()
	}
}

func (tx *locked) mustHold() {
	pkg.Assert(tx.held, pkg.ComponentDatabase, "database accessed without lock")
}

// touch records that waiters should re-check their condition.
func (tx *locked) touch() { tx.dirty = true }

func (tx *locked) isLocal(d, n int) bool {
	return uint32(d) == tx.db.domain && uint32(n) == tx.db.node
}

// endpoint resolves a handle to a valid endpoint owned by this node.
func (tx *locked) endpoint(h Endpoint) (*endpointEntry, error) {
	tx.mustHold()
	d, n, e, ok := tx.db.codec.DecodeEndpoint(h)
	if !ok || !tx.isLocal(d, n) {
		return nil, pkg.ErrInvalidEndpoint
	}
	ep := &tx.db.domains[d].nodes[n].endpoints[e]
	if !ep.valid || ep.gen != h.Generation() {
		return nil, pkg.ErrInvalidEndpoint
	}
	return ep, nil
}

// mustEndpoint resolves a handle that the database itself stored.
func (tx *locked) mustEndpoint(h Endpoint) *endpointEntry {
	ep, err := tx.endpoint(h)
	pkg.Assert(err == nil, pkg.ComponentDatabase, "stored endpoint %v does not resolve", h)
	return ep
}

// local reports whether h decodes to this node. It does not require the
// endpoint to exist.
func (tx *locked) local(h Endpoint) (bool, error) {
	d, n, _, ok := tx.db.codec.DecodeEndpoint(h)
	if !ok {
		return false, pkg.ErrInvalidEndpoint
	}
	return tx.isLocal(d, n), nil
}

func (tx *locked) localNode() *nodeEntry {
	return &tx.db.domains[tx.db.domain].nodes[tx.db.node]
}

// channelOf returns the channel an endpoint is connected through.
func (tx *locked) channelOf(ep *endpointEntry) *channel {
	if ep.channel == 0 {
		return nil
	}
	return &tx.db.channels[ep.channel-1]
}

func (tx *locked) channelType(ep *endpointEntry) ChannelType {
	if ch := tx.channelOf(ep); ch != nil {
		return ch.typ
	}
	return ChannelNone
}

// allocChannel claims a free channel entry and returns its index plus one.
func (tx *locked) allocChannel(typ ChannelType, send, recv Endpoint) (int, bool) {
	for i := range tx.db.channels {
		if !tx.db.channels[i].inUse {
			tx.db.channels[i] = channel{inUse: true, typ: typ, send: send, recv: recv}
			return i + 1, true
		}
	}
	return 0, false
}

// disconnect detaches ep from its channel and frees the channel entry once
// no local endpoint references it.
func (tx *locked) disconnect(ep *endpointEntry) {
	ch := tx.channelOf(ep)
	if ch == nil {
		return
	}
	idx := ep.channel
	ep.connected = false
	ep.open = false
	ep.channel = 0

	for _, h := range [2]Endpoint{ch.send, ch.recv} {
		if other, err := tx.endpoint(h); err == nil && other.channel == idx {
			return
		}
	}
	*ch = channel{}
	tx.touch()
}

// initialize invalidates every table and registers the local node.
func (tx *locked) initialize(domain, node uint32, attrs *NodeAttributes) error {
	db := tx.db
	if int(domain) >= db.cfg.MaxDomains || int(node) >= db.cfg.MaxNodes {
		return pkg.ErrInvalidParameter
	}
	for d := range db.domains {
		db.domains[d] = domainEntry{}
	}
	dom := &db.domains[domain]
	if dom.nodes == nil {
		dom.nodes = make([]nodeEntry, db.cfg.MaxNodes)
	}
	if dom.nodes[node].valid {
		return pkg.ErrNodeExists
	}
	dom.id = domain
	dom.valid = true
	dom.numNodes++

	n := &dom.nodes[node]
	n.id = node
	n.valid = true
	if attrs != nil {
		n.attrs = *attrs
	}
	n.endpoints = make([]endpointEntry, db.cfg.MaxEndpoints)
	for e := range n.endpoints {
		n.endpoints[e].queue = newQueue(db.cfg.MaxQueueElements)
	}

	db.domain = domain
	db.node = node
	return nil
}
