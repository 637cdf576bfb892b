package mcapi

import (
	"context"

	"github.com/XCopter-HSU/XCopter/pkg"
)

// PktChanConnectI connects send to recv as a packet channel. Only the
// local sides are recorded; a remote node connects its own side. The
// request completes immediately.
func (n *Node) PktChanConnectI(send, recv Endpoint) (Request, error) {
	return n.connect(ChannelPacket, send, recv)
}

// PktChanSendOpenI opens the send side of a packet channel. The request
// completes when the receive side is open too.
func (n *Node) PktChanSendOpenI(send Endpoint) (Request, error) {
	return n.openSide(send, ChannelPacket, sideSend)
}

// PktChanRecvOpenI opens the receive side of a packet channel.
func (n *Node) PktChanRecvOpenI(recv Endpoint) (Request, error) {
	return n.openSide(recv, ChannelPacket, sideRecv)
}

// PktChanSendCloseI closes the send side of a packet channel. The
// request completes when the receive side is closed too.
func (n *Node) PktChanSendCloseI(send Endpoint) (Request, error) {
	return n.closeSide(send, ChannelPacket, sideSend)
}

// PktChanRecvCloseI closes the receive side of a packet channel and
// frees every packet still queued on it.
func (n *Node) PktChanRecvCloseI(recv Endpoint) (Request, error) {
	return n.closeSide(recv, ChannelPacket, sideRecv)
}

// channelTarget checks that ep is the open send side of a channel of typ
// and returns the receiver.
func channelTarget(h Endpoint, typ ChannelType, size, limit int) func(*locked, *endpointEntry) (Endpoint, error) {
	return func(tx *locked, ep *endpointEntry) (Endpoint, error) {
		_, ch, err := tx.side(h, typ, sideSend)
		if err != nil {
			return 0, err
		}
		if !ep.open {
			return 0, pkg.ErrChannelNotOpen
		}
		if size > limit {
			return 0, pkg.ErrMessageSize
		}
		return ch.recv, nil
	}
}

// PktChanSendI sends a packet without blocking.
func (n *Node) PktChanSendI(send Endpoint, data []byte) (Request, error) {
	return n.pktSendI(n.ctx, send, data)
}

func (n *Node) pktSendI(ctx context.Context, send Endpoint, data []byte) (Request, error) {
	return n.sendI(ctx, send, ChannelPacket, data, channelTarget(send, ChannelPacket, len(data), n.cfg.MaxPktSize))
}

// PktChanSend sends a packet, waiting for queue space.
func (n *Node) PktChanSend(ctx context.Context, send Endpoint, data []byte) error {
	_, err := n.block(ctx, func() (Request, error) {
		return n.pktSendI(ctx, send, data)
	})
	return err
}

// PktChanRecvI receives a packet without blocking. On completion *out
// holds a system buffer that must be returned with [Node.PktChanFree].
func (n *Node) PktChanRecvI(recv Endpoint, out *PacketBuffer) (Request, error) {
	if out == nil {
		return 0, pkg.ErrInvalidParameter
	}
	return n.recvI(recv, ChannelPacket, func(r *request) {
		r.pktOut = out
	})
}

// PktChanRecv receives the next packet.
func (n *Node) PktChanRecv(ctx context.Context, recv Endpoint) (PacketBuffer, error) {
	var buf PacketBuffer
	_, err := n.block(ctx, func() (Request, error) {
		return n.PktChanRecvI(recv, &buf)
	})
	return buf, err
}

// PktChanAvailable returns the number of packets queued on recv.
func (n *Node) PktChanAvailable(recv Endpoint) (int, error) {
	return n.available(recv, ChannelPacket)
}

// PktChanFree returns a received packet's buffer to the pool. Freeing a
// buffer twice or a buffer that was never received fails with
// ErrInvalidParameter.
func (n *Node) PktChanFree(buf PacketBuffer) error {
	tx, err := n.begin()
	if err != nil {
		return err
	}
	defer tx.unlock()
	p := &tx.db.buffers
	if !p.valid(buf.index) || p.gen(buf.index) != buf.gen || buf.Data == nil {
		return pkg.ErrInvalidParameter
	}
	p.release(buf.index)
	tx.touch()
	return nil
}
