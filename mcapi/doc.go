// Package mcapi implements the transport of the inter-core communication
// runtime: endpoints, connectionless messages, packet channels and scalar
// channels between nodes of a fixed multiprocessor board.
//
// Each [Node] owns one database of fixed-capacity tables sized by
// [Config]: endpoints with their receive queues, a shared buffer pool, a
// request table and a channel table. A single mutex guards the whole
// database; internal code reaches the tables only through the token
// returned by locking it.
//
// # Requests
//
// Every operation has a non-blocking variant (suffix I) that returns a
// [Request] handle, and most have a blocking variant built on it:
//
//	r, err := node.MsgRecvI(ep, buf)
//	if err != nil {
//	    return err
//	}
//	size, err := node.Wait(ctx, &r, mcapi.Infinite)
//
// [Node.Test] polls a request, [Node.Wait] and [Node.WaitAny] block on
// one or several, and [Node.Cancel] stops a pending one. Non-blocking
// calls that hit a full queue or an exhausted pool fail with
// [pkg.ErrMemLimit] and return no request; blocking calls retry them.
//
// # Ordering
//
// Outstanding receives on one endpoint reserve queue slots in issue
// order, so each completes with the data whose arrival order matches its
// issue order. Cancelling a receive shifts later reservations back.
//
// # Channels
//
//	Unconnected → Connected → Open (one side) → Open (both)
//	    → Closed (one side) → Closed (both) → Unconnected
//
// Connect records the channel on the local sides only; a node owning the
// other side connects it there. Open and close requests complete once
// both sides agree.
//
// # Remote Nodes
//
// Traffic to endpoints of other nodes goes through a [Network], such as
// the routing layer in [github.com/XCopter-HSU/XCopter/mcapi/ns]. The
// lock is never held across a network call.
package mcapi
