package mcapi

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/XCopter-HSU/XCopter/pkg"
)

// lookup finds the local endpoint bound to port.
func (tx *locked) lookup(port uint32) (Endpoint, bool) {
	tx.mustHold()
	node := tx.localNode()
	for e := range node.endpoints {
		if ep := &node.endpoints[e]; ep.valid && ep.port == port {
			return tx.db.codec.EndpointGen(int(tx.db.domain), int(tx.db.node), e, ep.gen), true
		}
	}
	return 0, false
}

// acceptFrom checks that ep can take traffic of the given channel type.
// Messages need an unconnected endpoint; channel traffic needs the
// endpoint connected, open and of the same type.
func (tx *locked) acceptFrom(ep *endpointEntry, typ ChannelType) error {
	if typ == ChannelNone {
		if ep.connected {
			return pkg.ErrChannelConnected
		}
		return nil
	}
	if !ep.connected || !ep.open {
		return pkg.ErrChannelNotOpen
	}
	if got := tx.channelType(ep); got != typ {
		return fmt.Errorf("%w: %v on %v channel", pkg.ErrChannelType, typ, got)
	}
	return nil
}

// reserveSlot makes room at the tail of ep's queue and claims a buffer.
func (tx *locked) reserveSlot(ep *endpointEntry) (int, error) {
	if ep.queue.full() {
		ep.queue.compact()
		if ep.queue.full() {
			return 0, pkg.ErrMemLimit
		}
	}
	b, ok := tx.db.buffers.acquire()
	if !ok {
		return 0, pkg.ErrMemLimit
	}
	return b, nil
}

func (tx *locked) commit(ep *endpointEntry, b int) {
	slot := ep.queue.push()
	ep.queue.slots[slot].buffer = uint32(b) | bufferValid
	tx.touch()
}

// enqueue copies data into a fresh buffer at the tail of ep's queue.
func (tx *locked) enqueue(ep *endpointEntry, data []byte) error {
	b, err := tx.reserveSlot(ep)
	if err != nil {
		return err
	}
	tx.db.buffers.write(b, data)
	tx.commit(ep, b)
	return nil
}

// enqueueScalar stores a scalar of size bytes at the tail of ep's queue.
func (tx *locked) enqueueScalar(ep *endpointEntry, v uint64, size int) error {
	b, err := tx.reserveSlot(ep)
	if err != nil {
		return err
	}
	tx.db.buffers.writeScalar(b, v, size)
	tx.commit(ep, b)
	return nil
}

// encodeScalar returns the size-byte little-endian form of v.
func encodeScalar(v uint64, size int) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), v)[:size]
}

// decodeScalar reverses encodeScalar; the width is len(data).
func decodeScalar(data []byte) (uint64, error) {
	if len(data) < 1 || len(data) > 8 {
		return 0, fmt.Errorf("%w: %d bytes", pkg.ErrScalarSize, len(data))
	}
	var word [8]byte
	copy(word[:], data)
	return binary.LittleEndian.Uint64(word[:]), nil
}

// deliver enqueues data from send on the local endpoint recv.
func (n *Node) deliver(tx *locked, send, recv Endpoint, typ ChannelType, data []byte) error {
	ep, err := tx.endpoint(recv)
	if err != nil {
		return err
	}
	if err := tx.acceptFrom(ep, typ); err != nil {
		return err
	}
	if typ != ChannelNone && tx.channelOf(ep).send != send {
		return pkg.ErrChannelNotOpen
	}
	if typ == ChannelScalar {
		v, err := decodeScalar(data)
		if err != nil {
			return err
		}
		return tx.enqueueScalar(ep, v, len(data))
	}
	if len(data) > n.maxSize(typ) {
		return pkg.ErrMessageSize
	}
	return tx.enqueue(ep, data)
}

// transmit moves data from send to recv. It takes ownership of tx and
// returns with the lock released; remote sends run unlocked.
func (n *Node) transmit(ctx context.Context, tx *locked, send, recv Endpoint, typ ChannelType, data []byte) error {
	remote, err := n.remote(tx, recv)
	if err != nil || !remote {
		if err == nil {
			err = n.deliver(tx, send, recv, typ, data)
		}
		tx.unlock()
		return err
	}
	tx.unlock()

	err = n.net.SendToRemote(ctx, send, recv, data)
	if pkg.IsRetryable(err) && !errors.Is(err, pkg.ErrMemLimit) {
		err = fmt.Errorf("%w: %w", pkg.ErrMemLimit, err)
	}
	return err
}

// sendI is the shared body of every non-blocking send. target validates
// the send endpoint under the lock and names the receiver. A send that
// fails immediately returns no request.
func (n *Node) sendI(ctx context.Context, send Endpoint, typ ChannelType, data []byte,
	target func(tx *locked, ep *endpointEntry) (Endpoint, error),
) (Request, error) {
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	ep, err := tx.endpoint(send)
	if err != nil {
		tx.unlock()
		return 0, err
	}
	recv, err := target(tx, ep)
	if err != nil {
		tx.unlock()
		return 0, err
	}
	req, err := tx.reserveRequest(requestSend)
	if err != nil {
		tx.unlock()
		return 0, err
	}
	req.endpoint = send
	h := req.handle

	err = n.transmit(ctx, tx, send, recv, typ, data)

	tx = n.db.lock()
	defer tx.unlock()
	req, rerr := tx.request(h)
	pkg.Assert(rerr == nil, pkg.ComponentTransport, "send request %#x released while unlocked", uint32(h))
	if err != nil {
		tx.releaseRequest(req)
		return 0, err
	}
	tx.complete(req, pkg.StatusSuccess, len(data))
	return h, nil
}

// recvI is the shared body of every non-blocking receive. If data is
// queued it completes at once; otherwise it reserves the next slot of the
// receive queue so arrivals are handed out in issue order.
func (n *Node) recvI(recv Endpoint, typ ChannelType, setup func(*request)) (Request, error) {
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	defer tx.unlock()

	ep, err := tx.endpoint(recv)
	if err != nil {
		return 0, err
	}
	if err := tx.acceptFrom(ep, typ); err != nil {
		return 0, err
	}
	if typ != ChannelNone && tx.channelOf(ep).recv != recv {
		return 0, fmt.Errorf("%w: %v is the send side", pkg.ErrInvalidEndpoint, recv)
	}

	req, err := tx.reserveRequest(requestRecv)
	if err != nil {
		return 0, err
	}
	req.endpoint = recv
	setup(req)

	if !ep.queue.empty() {
		tx.receive(req, ep.queue.pop())
		return req.handle, nil
	}
	if !ep.queue.reserve(req.handle) {
		tx.releaseRequest(req)
		return 0, pkg.ErrMemLimit
	}
	pkg.LogDebug(pkg.ComponentTransport, "receive pending", "endpoint", recv, "request", uint32(req.handle))
	return req.handle, nil
}

// available counts queued data on a receive endpoint of the given type.
func (n *Node) available(recv Endpoint, typ ChannelType) (int, error) {
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	defer tx.unlock()
	ep, err := tx.endpoint(recv)
	if err != nil {
		return 0, err
	}
	if typ == ChannelNone {
		if err := tx.acceptFrom(ep, typ); err != nil {
			return 0, err
		}
	} else if tx.channelType(ep) != typ {
		return 0, pkg.ErrChannelType
	}
	return ep.queue.available(), nil
}
