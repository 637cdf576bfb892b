// Package ns routes runtime traffic between the nodes of a board.
//
// A [Layer] sits between an [github.com/XCopter-HSU/XCopter/mcapi.Node] and
// the physical layer of that node. It implements
// [github.com/XCopter-HSU/XCopter/mcapi.Network]: remote endpoint lookup,
// remote open queries and delivery of messages, packets and scalars to
// endpoints of other nodes.
//
// # Protocol
//
// Every routing frame starts with a four-word header:
//
//	| kind | call id | send endpoint | recv endpoint | body ...
//
// Data frames carry the payload bytes as their body. Resolve requests and
// every acknowledgement carry a msgpack body. Each request is answered by
// an acknowledgement with the same call id and the status of the remote
// node, so a full queue on the receiving side reaches the sender as
// pkg.ErrMemLimit.
//
// Calls are synchronous. The call table holds Config.MaxCalls outstanding
// calls; when it is full a call fails with iox.ErrWouldBlock. Incoming
// requests are served one at a time in arrival order, which keeps the data
// of one sender in order.
//
// # Usage
//
//	m := hal.DefaultMapping(3)
//	phys := fifo.New(1, m, fabric, fifo.DefaultConfig())
//	net := ns.New(phys, m, ns.DefaultConfig())
//	node, err := mcapi.Initialize(ctx, 0, 1, nil, mcapi.DefaultConfig(), net)
package ns
