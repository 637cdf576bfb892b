// Package fifo implements the physical layer of the inter-core runtime on
// top of CPU FIFO bridges.
//
// # Frames
//
// Every frame is a length word followed by the frame body in 32-bit
// little-endian words, with no delimiters and no checksum:
//
//	-------------------------------------------------
//	| length | header words | payload words          |
//	-------------------------------------------------
//	   |--> header and payload length in bytes
//
// The last payload word is zero padded. Bridges are assumed error free.
//
// # Sending
//
// [Layer.Send] writes a frame word by word under one mutex shared by all
// links of the node. Before each word it polls the send level of the bridge
// and backs off while the send FIFO is close to full.
//
// # Receiving
//
// [Layer.Init] starts one receive task per neighbor. A task sleeps until
// its bridge raises the receive interrupt, drains the receive FIFO through
// a [Reassembler] and passes each complete frame to the function given to
// [Layer.SetReceiver]. Frames longer than Config.MaxFrameSize are dropped.
//
// # Bridges
//
// Two bridge implementations are provided:
//
//   - [Fabric] simulates a whole board in memory. Each direction of a link
//     is a bounded lock-free single-producer single-consumer word FIFO.
//   - [PipeBus] uses named pipes in a shared directory, so the nodes of a
//     board can run as separate processes:
//
//	bus, _ := fifo.CreatePipeBus(os.TempDir(), fifo.DefaultConfig())
//	layer := fifo.New(0, hal.DefaultMapping(3), bus, fifo.DefaultConfig())
//	layer.SetReceiver(func(p hal.PDU) { ... })
//	err := layer.Init(ctx)
//
// Other processes attach to the same board with [OpenPipeBus] and the
// directory returned by [PipeBus.Dir].
package fifo
