// Package hal defines the physical layer contracts of the inter-core
// runtime.
//
// Nodes of a board are joined pairwise by CPU FIFO bridges: one send FIFO
// and one receive FIFO of 32-bit words per neighbor, with a status register,
// fill levels and an interrupt raised when received data is waiting. The
// [Bridge] interface models those registers so the framing layer in
// [github.com/XCopter-HSU/XCopter/mcapi/hal/fifo] runs unchanged over
// simulated or real hardware.
//
// # Topology
//
// A [Mapping] is the static table of which bridge each node uses to reach
// each other node:
//
//	m := hal.DefaultMapping(3)
//	d, ok := m.Route(0, 2) // bridge of node 0 towards node 2
//
// Base addresses identify a bridge only from the point of view of its own
// node; two nodes may use the same base for different neighbors.
//
// # Frames
//
// The physical layer hands complete frames upward as a [PDU]. Its Data
// slice is reused for the next frame, so receivers copy what they keep.
package hal
