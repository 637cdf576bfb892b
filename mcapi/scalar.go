package mcapi

import "context"

// SclChanConnectI connects send to recv as a scalar channel.
func (n *Node) SclChanConnectI(send, recv Endpoint) (Request, error) {
	return n.connect(ChannelScalar, send, recv)
}

// SclChanSendOpenI opens the send side of a scalar channel.
func (n *Node) SclChanSendOpenI(send Endpoint) (Request, error) {
	return n.openSide(send, ChannelScalar, sideSend)
}

// SclChanRecvOpenI opens the receive side of a scalar channel.
func (n *Node) SclChanRecvOpenI(recv Endpoint) (Request, error) {
	return n.openSide(recv, ChannelScalar, sideRecv)
}

// SclChanSendCloseI closes the send side of a scalar channel.
func (n *Node) SclChanSendCloseI(send Endpoint) (Request, error) {
	return n.closeSide(send, ChannelScalar, sideSend)
}

// SclChanRecvCloseI closes the receive side of a scalar channel.
func (n *Node) SclChanRecvCloseI(recv Endpoint) (Request, error) {
	return n.closeSide(recv, ChannelScalar, sideRecv)
}

// sclSend sends the low size bytes of v. Scalars travel as little-endian
// bytes and keep their width, which the receiver must match.
func (n *Node) sclSend(ctx context.Context, send Endpoint, v uint64, size int) error {
	data := encodeScalar(v, size)
	_, err := n.block(ctx, func() (Request, error) {
		return n.sendI(ctx, send, ChannelScalar, data, channelTarget(send, ChannelScalar, size, 8))
	})
	return err
}

// sclRecv receives the next scalar. A scalar of another width is consumed
// and reported as ErrScalarSize.
func (n *Node) sclRecv(ctx context.Context, recv Endpoint, size int) (uint64, error) {
	var v uint64
	_, err := n.block(ctx, func() (Request, error) {
		return n.recvI(recv, ChannelScalar, func(r *request) {
			r.sclOut = &v
			r.sclSize = size
		})
	})
	return v, err
}

// SclChanSendUint64 sends a 64-bit scalar.
func (n *Node) SclChanSendUint64(ctx context.Context, send Endpoint, v uint64) error {
	return n.sclSend(ctx, send, v, 8)
}

// SclChanSendUint32 sends a 32-bit scalar.
func (n *Node) SclChanSendUint32(ctx context.Context, send Endpoint, v uint32) error {
	return n.sclSend(ctx, send, uint64(v), 4)
}

// SclChanSendUint16 sends a 16-bit scalar.
func (n *Node) SclChanSendUint16(ctx context.Context, send Endpoint, v uint16) error {
	return n.sclSend(ctx, send, uint64(v), 2)
}

// SclChanSendUint8 sends an 8-bit scalar.
func (n *Node) SclChanSendUint8(ctx context.Context, send Endpoint, v uint8) error {
	return n.sclSend(ctx, send, uint64(v), 1)
}

// SclChanRecvUint64 receives a 64-bit scalar.
func (n *Node) SclChanRecvUint64(ctx context.Context, recv Endpoint) (uint64, error) {
	return n.sclRecv(ctx, recv, 8)
}

// SclChanRecvUint32 receives a 32-bit scalar.
func (n *Node) SclChanRecvUint32(ctx context.Context, recv Endpoint) (uint32, error) {
	v, err := n.sclRecv(ctx, recv, 4)
	return uint32(v), err
}

// SclChanRecvUint16 receives a 16-bit scalar.
func (n *Node) SclChanRecvUint16(ctx context.Context, recv Endpoint) (uint16, error) {
	v, err := n.sclRecv(ctx, recv, 2)
	return uint16(v), err
}

// SclChanRecvUint8 receives an 8-bit scalar.
func (n *Node) SclChanRecvUint8(ctx context.Context, recv Endpoint) (uint8, error) {
	v, err := n.sclRecv(ctx, recv, 1)
	return uint8(v), err
}

// SclChanAvailable returns the number of scalars queued on recv.
func (n *Node) SclChanAvailable(recv Endpoint) (int, error) {
	return n.available(recv, ChannelScalar)
}
