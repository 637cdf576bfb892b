package mcapi

import (
	"context"

	"github.com/XCopter-HSU/XCopter/pkg"
)

// Priority is the message priority. It is recorded but does not reorder
// delivery.
type Priority uint32

// messageTarget checks that send is free for connectionless messages.
func messageTarget(recv Endpoint, size, limit int) func(*locked, *endpointEntry) (Endpoint, error) {
	return func(tx *locked, ep *endpointEntry) (Endpoint, error) {
		if ep.connected {
			return 0, pkg.ErrChannelConnected
		}
		if size > limit {
			return 0, pkg.ErrMessageSize
		}
		return recv, nil
	}
}

// MsgSendI sends a connectionless message without blocking. A full
// receive queue or an exhausted buffer pool fails with ErrMemLimit.
func (n *Node) MsgSendI(send, recv Endpoint, data []byte, priority Priority) (Request, error) {
	return n.msgSendI(n.ctx, send, recv, data, priority)
}

func (n *Node) msgSendI(ctx context.Context, send, recv Endpoint, data []byte, priority Priority) (Request, error) {
	pkg.LogDebug(pkg.ComponentTransport, "msg send", "send", send, "recv", recv, "size", len(data), "priority", priority)
	return n.sendI(ctx, send, ChannelNone, data, messageTarget(recv, len(data), n.cfg.MaxMsgSize))
}

// MsgSend sends a connectionless message, waiting for queue space.
func (n *Node) MsgSend(ctx context.Context, send, recv Endpoint, data []byte, priority Priority) error {
	_, err := n.block(ctx, func() (Request, error) {
		return n.msgSendI(ctx, send, recv, data, priority)
	})
	return err
}

// MsgRecvI receives a message into buf without blocking. The request
// completes with the message size; a message longer than buf is
// truncated and completes with ErrMessageTruncated.
func (n *Node) MsgRecvI(recv Endpoint, buf []byte) (Request, error) {
	return n.recvI(recv, ChannelNone, func(r *request) {
		r.buffer = buf
	})
}

// MsgRecv receives a message into buf and returns its size.
func (n *Node) MsgRecv(ctx context.Context, recv Endpoint, buf []byte) (int, error) {
	return n.block(ctx, func() (Request, error) {
		return n.MsgRecvI(recv, buf)
	})
}

// MsgAvailable returns the number of messages queued on recv.
func (n *Node) MsgAvailable(recv Endpoint) (int, error) {
	return n.available(recv, ChannelNone)
}
