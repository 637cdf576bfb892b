package fifo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"golang.org/x/sync/errgroup"

	"github.com/XCopter-HSU/XCopter/mcapi/hal"
	"github.com/XCopter-HSU/XCopter/pkg"
)

// BridgeSource opens the bridge a node uses to reach a neighbor.
type BridgeSource interface {
	Open(node, peer uint32, dst hal.Destination) (hal.Bridge, error)
}

// Stats counts frames handled by a layer.
type Stats struct {
	FramesSent     uint32
	FramesReceived uint32
	FramesDropped  uint32
}

// link is one bridge of the local node together with its receive task
// state.
type link struct {
	peer   uint32
	dst    hal.Destination
	bridge hal.Bridge
}

// Layer is the physical layer of one node. It frames outgoing data onto
// the bridge of the destination and runs one receive task per bridge that
// reassembles incoming frames and hands them to the receiver.
type Layer struct {
	node    uint32
	mapping hal.Mapping
	source  BridgeSource
	cfg     Config

	mutex    sync.RWMutex
	links    map[uint32]*link // by base address
	receiver func(hal.PDU)
	running  bool
	closed   bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	done     <-chan struct{}

	// sendMutex keeps frames of concurrent senders from interleaving.
	sendMutex sync.Mutex
	frame     []uint32

	sent     atomix.Uint32
	received atomix.Uint32
	dropped  atomix.Uint32
}

// New returns the physical layer of node. Bridges are opened from source
// when the layer is initialized.
func New(node uint32, mapping hal.Mapping, source BridgeSource, cfg Config) *Layer {
	return &Layer{
		node:    node,
		mapping: mapping,
		source:  source,
		cfg:     cfg,
		links:   make(map[uint32]*link),
	}
}

// Node returns the local node number.
func (l *Layer) Node() uint32 { return l.node }

// Mapping returns the topology the layer was built with.
func (l *Layer) Mapping() hal.Mapping { return l.mapping }

// Config returns the layer limits.
func (l *Layer) Config() Config { return l.cfg }

// SetReceiver installs the callback that receives every complete frame.
// The callback runs on a receive task and must copy PDU.Data before
// returning.
func (l *Layer) SetReceiver(fn func(hal.PDU)) {
	l.mutex.Lock()
	l.receiver = fn
	l.mutex.Unlock()
}

// Init opens one bridge per neighbor of the local node, clears it and
// starts its receive task. The tasks stop when ctx ends or on Close.
func (l *Layer) Init(ctx context.Context) error {
	if err := l.cfg.Validate(); err != nil {
		return errors.Join(pkg.ErrInvalidParameter, err)
	}
	if err := l.mapping.Validate(); err != nil {
		return err
	}
	if int(l.node) >= l.mapping.Nodes() {
		return fmt.Errorf("%w: node %d not in mapping", pkg.ErrInvalidParameter, l.node)
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.running {
		return pkg.ErrAlreadyRunning
	}
	if l.closed {
		return pkg.ErrClosed
	}

	for _, peer := range l.mapping.Links(l.node) {
		dst, _ := l.mapping.Route(l.node, peer)
		bridge, err := l.source.Open(l.node, peer, dst)
		if err != nil {
			l.closeLinks()
			return fmt.Errorf("open bridge to node %d: %w", peer, err)
		}
		bridge.Clear()
		l.links[dst.Base] = &link{peer: peer, dst: dst, bridge: bridge}
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.group, ctx = errgroup.WithContext(ctx)
	l.done = ctx.Done()
	for _, lk := range l.links {
		l.group.Go(func() error {
			return l.receive(ctx, lk)
		})
		pkg.LogInfo(pkg.ComponentFIFO, "link up",
			"node", l.node, "peer", lk.peer, "base", lk.dst.Base, "irq", lk.dst.IRQ)
	}

	l.running = true
	return nil
}

// Close stops the receive tasks and closes every bridge.
func (l *Layer) Close() error {
	l.mutex.Lock()
	if !l.running {
		l.mutex.Unlock()
		return pkg.ErrNotRunning
	}
	l.running = false
	l.closed = true
	l.cancel()
	group := l.group
	l.mutex.Unlock()

	err := group.Wait()

	l.sendMutex.Lock()
	l.mutex.Lock()
	err = errors.Join(err, l.closeLinks())
	l.mutex.Unlock()
	l.sendMutex.Unlock()

	pkg.LogInfo(pkg.ComponentFIFO, "layer closed", "node", l.node)
	return err
}

// closeLinks closes every open bridge. The caller holds l.mutex.
func (l *Layer) closeLinks() error {
	var err error
	for base, lk := range l.links {
		if cerr := lk.bridge.Close(); cerr != nil && !errors.Is(cerr, pkg.ErrClosed) {
			err = errors.Join(err, cerr)
		}
		delete(l.links, base)
		pkg.LogInfo(pkg.ComponentFIFO, "link down", "node", l.node, "peer", lk.peer)
	}
	return err
}

// Send writes one frame to the bridge at base: the total length in bytes,
// the header words, then the payload words covering payloadBytes bytes.
// Concurrent calls are serialized. Before each word Send waits while the
// send FIFO holds more than Config.SendLevelLimit words.
//
// ctx is honored until the first word is written; after that the frame is
// always completed unless the layer closes.
func (l *Layer) Send(ctx context.Context, base uint32, header, payload []uint32, payloadBytes int) error {
	if payloadBytes < 0 || (payloadBytes+3)/4 > len(payload) {
		return fmt.Errorf("%w: %d payload bytes in %d words",
			pkg.ErrInvalidParameter, payloadBytes, len(payload))
	}
	n := 4*len(header) + payloadBytes
	if n == 0 {
		return fmt.Errorf("%w: empty frame", pkg.ErrInvalidParameter)
	}
	if n > l.cfg.MaxFrameSize {
		return fmt.Errorf("%w: %d bytes, max %d", pkg.ErrFrameTooLarge, n, l.cfg.MaxFrameSize)
	}

	l.mutex.RLock()
	lk, ok := l.links[base]
	running := l.running
	done := l.done
	l.mutex.RUnlock()
	if !running {
		return pkg.ErrNotRunning
	}
	if !ok {
		return fmt.Errorf("%w: no bridge at %#x", pkg.ErrNoRoute, base)
	}

	l.sendMutex.Lock()
	defer l.sendMutex.Unlock()

	l.frame = EncodeFrame(l.frame[:0], header, payload, payloadBytes)
	for i, word := range l.frame {
		var cancelled <-chan struct{}
		if i == 0 {
			cancelled = ctx.Done()
		}
		if err := l.writeWord(lk.bridge, word, done, cancelled); err != nil {
			if i == 0 && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}

	l.sent.Add(1)
	pkg.LogDebug(pkg.ComponentFIFO, "frame sent", "node", l.node, "peer", lk.peer, "length", n)
	return nil
}

// writeWord writes one word once the send level allows it. It gives up
// when done or cancelled is closed.
func (l *Layer) writeWord(b hal.Bridge, word uint32, done, cancelled <-chan struct{}) error {
	var bo iox.Backoff
	for {
		if b.SendLevel() <= l.cfg.SendLevelLimit {
			err := b.WriteData(word)
			if err == nil {
				return nil
			}
			if !iox.IsWouldBlock(err) {
				return err
			}
		}
		select {
		case <-done:
			return pkg.ErrClosed
		case <-cancelled:
			return pkg.ErrClosed
		default:
		}
		bo.Wait()
	}
}

// receive is the receive task of one link. It sleeps until the bridge
// raises its interrupt, drains the receive FIFO through a reassembler and
// re-arms the interrupt.
func (l *Layer) receive(ctx context.Context, lk *link) error {
	r := NewReassembler(lk.dst.Base, l.cfg.MaxFrameSize)
	lk.bridge.EnableInterrupt(hal.IntAlmostFull)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lk.bridge.Interrupt():
		}

		for {
			word, err := lk.bridge.ReadData()
			if err != nil {
				if iox.IsWouldBlock(err) {
					break
				}
				if errors.Is(err, pkg.ErrClosed) {
					return nil
				}
				return fmt.Errorf("link %d: %w", lk.peer, err)
			}

			dropped := r.Dropped()
			pdu, ok := r.Feed(word)
			if r.Dropped() != dropped {
				l.dropped.Add(1)
			}
			if !ok {
				continue
			}
			l.received.Add(1)
			pkg.LogDebug(pkg.ComponentFIFO, "frame received",
				"node", l.node, "peer", lk.peer, "length", pdu.Length)

			l.mutex.RLock()
			fn := l.receiver
			l.mutex.RUnlock()
			if fn == nil {
				pkg.LogWarn(pkg.ComponentFIFO, "frame dropped, no receiver", "node", l.node, "peer", lk.peer)
				l.dropped.Add(1)
				continue
			}
			fn(pdu)
		}

		lk.bridge.EnableInterrupt(hal.IntAlmostFull)
	}
}

// Stats returns the frame counters.
func (l *Layer) Stats() Stats {
	return Stats{
		FramesSent:     l.sent.Load(),
		FramesReceived: l.received.Load(),
		FramesDropped:  l.dropped.Load(),
	}
}
