package mcapi

import (
	"fmt"

	"github.com/XCopter-HSU/XCopter/pkg"
)

// channelSide selects the end of a channel an operation acts on.
type channelSide uint8

const (
	sideSend channelSide = iota
	sideRecv
)

func (s channelSide) String() string {
	if s == sideSend {
		return "send"
	}
	return "recv"
}

// connect records a channel between send and recv on every local side.
// A remote side learns of the channel when its own node connects it.
func (n *Node) connect(typ ChannelType, send, recv Endpoint) (Request, error) {
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	defer tx.unlock()

	var local []*endpointEntry
	for _, h := range [2]Endpoint{send, recv} {
		remote, err := n.remote(tx, h)
		if err != nil {
			return 0, err
		}
		if remote {
			continue
		}
		ep, err := tx.endpoint(h)
		if err != nil {
			return 0, err
		}
		if ep.connected {
			return 0, fmt.Errorf("%w: %v", pkg.ErrChannelConnected, h)
		}
		local = append(local, ep)
	}
	if len(local) == 0 {
		return 0, fmt.Errorf("%w: neither %v nor %v is local", pkg.ErrInvalidEndpoint, send, recv)
	}
	if send == recv {
		return 0, fmt.Errorf("%w: channel to itself", pkg.ErrInvalidEndpoint)
	}

	idx, ok := tx.allocChannel(typ, send, recv)
	pkg.Assert(ok, pkg.ComponentTransport, "channel table exhausted")
	req, err := tx.reserveRequest(requestConnect)
	if err != nil {
		tx.db.channels[idx-1] = channel{}
		return 0, err
	}
	for _, ep := range local {
		ep.connected = true
		ep.open = false
		ep.channel = idx
	}
	req.endpoint = send
	req.peer = recv
	tx.complete(req, pkg.StatusSuccess, 0)
	pkg.LogDebug(pkg.ComponentTransport, "channel connected", "type", typ, "send", send, "recv", recv)
	return req.handle, nil
}

// side validates that h is the given side of a connected channel of typ.
func (tx *locked) side(h Endpoint, typ ChannelType, which channelSide) (*endpointEntry, *channel, error) {
	ep, err := tx.endpoint(h)
	if err != nil {
		return nil, nil, err
	}
	ch := tx.channelOf(ep)
	if !ep.connected || ch == nil {
		return nil, nil, pkg.ErrChannelNotOpen
	}
	if ch.typ != typ {
		return nil, nil, fmt.Errorf("%w: %v is a %v channel", pkg.ErrChannelType, h, ch.typ)
	}
	if (which == sideSend && ch.send != h) || (which == sideRecv && ch.recv != h) {
		return nil, nil, fmt.Errorf("%w: %v is not the %v side", pkg.ErrInvalidEndpoint, h, which)
	}
	return ep, ch, nil
}

func (ch *channel) peerOf(side channelSide) Endpoint {
	if side == sideSend {
		return ch.recv
	}
	return ch.send
}

// openSide marks one side open. The request completes once both sides are.
func (n *Node) openSide(h Endpoint, typ ChannelType, side channelSide) (Request, error) {
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	defer tx.unlock()

	ep, ch, err := tx.side(h, typ, side)
	if err != nil {
		return 0, err
	}
	req, err := tx.reserveRequest(requestOpen)
	if err != nil {
		return 0, err
	}
	ep.open = true
	tx.touch()
	req.endpoint = h
	req.peer = ch.peerOf(side)
	if n.remoteCheck(tx, req) == nil {
		tx.check(req)
	}
	pkg.LogDebug(pkg.ComponentTransport, "channel side open", "endpoint", h, "side", side, "type", typ)
	return req.handle, nil
}

// closeSide marks one side closed. Closing the receive side drops queued data
// and fails its pending receives. The request completes, and the channel
// is torn down locally, once the peer is no longer open.
func (n *Node) closeSide(h Endpoint, typ ChannelType, side channelSide) (Request, error) {
	tx, err := n.begin()
	if err != nil {
		return 0, err
	}
	defer tx.unlock()

	ep, ch, err := tx.side(h, typ, side)
	if err != nil {
		return 0, err
	}
	req, err := tx.reserveRequest(requestClose)
	if err != nil {
		return 0, err
	}
	if side == sideRecv {
		tx.abortReceives(h, pkg.StatusChannelNotOpen)
		ep.queue.drain(tx.db.buffers.release)
	}
	ep.open = false
	tx.touch()
	req.endpoint = h
	req.peer = ch.peerOf(side)
	if n.remoteCheck(tx, req) == nil {
		tx.check(req)
	}
	pkg.LogDebug(pkg.ComponentTransport, "channel side closed", "endpoint", h, "side", side, "type", typ)
	return req.handle, nil
}

// abortReceives completes every pending receive on h with status and
// drops their queue reservations.
func (tx *locked) abortReceives(h Endpoint, status pkg.Status) {
	ep, _ := tx.endpoint(h)
	tx.db.reserves.each(func(i int) bool {
		r := &tx.db.requests[i]
		if r.kind != requestRecv || r.endpoint != h || r.completed || r.cancelled {
			return true
		}
		if ep != nil {
			if slot := ep.queue.find(r.handle); slot >= 0 {
				ep.queue.slots[slot].request = 0
			}
		}
		tx.complete(r, status, 0)
		return true
	})
	if ep != nil {
		ep.queue.compact()
	}
}

// ChannelIsOpen reports whether a local endpoint is connected and open.
func (n *Node) ChannelIsOpen(h Endpoint) (bool, error) {
	tx, err := n.begin()
	if err != nil {
		return false, err
	}
	defer tx.unlock()
	ep, err := tx.endpoint(h)
	if err != nil {
		return false, err
	}
	return ep.connected && ep.open, nil
}

// ChannelConnected reports whether a local endpoint is connected.
func (n *Node) ChannelConnected(h Endpoint) (bool, error) {
	tx, err := n.begin()
	if err != nil {
		return false, err
	}
	defer tx.unlock()
	ep, err := tx.endpoint(h)
	if err != nil {
		return false, err
	}
	return ep.connected, nil
}

// ChannelType returns the type of the channel a local endpoint is
// connected through, or ChannelNone.
func (n *Node) ChannelType(h Endpoint) (ChannelType, error) {
	tx, err := n.begin()
	if err != nil {
		return ChannelNone, err
	}
	defer tx.unlock()
	ep, err := tx.endpoint(h)
	if err != nil {
		return ChannelNone, err
	}
	return tx.channelType(ep), nil
}
