package ns

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/XCopter-HSU/XCopter/mcapi"
	"github.com/XCopter-HSU/XCopter/mcapi/hal"
	"github.com/XCopter-HSU/XCopter/mcapi/hal/fifo"
	"github.com/XCopter-HSU/XCopter/pkg"
)

// reply is an acknowledgement handed to a waiting call.
type reply struct {
	kind kind
	body []byte
}

// call is one slot of the call table.
type call struct {
	inUse bool
	id    uint32
	ch    chan reply
}

// incoming is a request queued for the responder.
type incoming struct {
	base uint32
	peer uint32
	hdr  header
	body []byte
}

// Layer routes traffic between the nodes of a board over the physical
// layer. It implements [mcapi.Network].
type Layer struct {
	phys    *fifo.Layer
	mapping hal.Mapping
	cfg     Config

	mutex    sync.Mutex
	dispatch mcapi.Dispatcher
	domain   uint32
	running  bool
	session  uuid.UUID
	calls    []call
	nextID   atomix.Uint32

	work   chan incoming
	done   chan struct{}
	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ mcapi.Network = (*Layer)(nil)

// New returns a routing layer for the node of phys.
func New(phys *fifo.Layer, mapping hal.Mapping, cfg Config) *Layer {
	return &Layer{
		phys:    phys,
		mapping: mapping,
		cfg:     cfg,
	}
}

// Start implements [mcapi.Network]. It installs the frame receiver, starts
// the physical layer and the responder.
func (l *Layer) Start(ctx context.Context, domain, node uint32, d mcapi.Dispatcher) error {
	if err := l.cfg.Validate(); err != nil {
		return errors.Join(pkg.ErrInvalidParameter, err)
	}
	if node != l.phys.Node() {
		return fmt.Errorf("%w: node %d on the physical layer of node %d",
			pkg.ErrInvalidParameter, node, l.phys.Node())
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.running {
		return pkg.ErrAlreadyRunning
	}
	l.dispatch = d
	l.domain = domain
	l.session = uuid.New()
	l.calls = make([]call, l.cfg.MaxCalls)
	l.work = make(chan incoming, l.cfg.Backlog)
	l.done = make(chan struct{})

	// Cancelling ctx also stops the physical layer, so a responder stuck
	// on a dead link returns on Close.
	ctx, cancel := context.WithCancel(ctx)
	l.phys.SetReceiver(l.receive)
	if err := l.phys.Init(ctx); err != nil {
		cancel()
		return err
	}

	l.cancel = cancel
	l.group, ctx = errgroup.WithContext(ctx)
	l.group.Go(func() error {
		return l.respond(ctx)
	})

	l.running = true
	pkg.LogInfo(pkg.ComponentRouting, "routing started",
		"domain", domain, "node", node, "session", l.session)
	return nil
}

// Close implements [mcapi.Network]. Outstanding calls fail with
// pkg.ErrClosed.
func (l *Layer) Close() error {
	l.mutex.Lock()
	if !l.running {
		l.mutex.Unlock()
		return pkg.ErrNotRunning
	}
	l.running = false
	close(l.done)
	l.cancel()
	l.mutex.Unlock()

	err := errors.Join(l.group.Wait(), l.phys.Close())
	pkg.LogInfo(pkg.ComponentRouting, "routing stopped", "node", l.phys.Node(), "session", l.session)
	return err
}

// ResolveEndpoint implements [mcapi.Network]. A port that does not exist
// yet reports pkg.ErrInvalidEndpoint; an unanswered query reports
// iox.ErrWouldBlock so the caller asks again.
func (l *Layer) ResolveEndpoint(ctx context.Context, domain, node, port uint32) (mcapi.Endpoint, error) {
	if domain != l.domain {
		return 0, fmt.Errorf("%w: domain %d", pkg.ErrNoRoute, domain)
	}
	body, err := encodeBody(resolveBody{Domain: domain, Node: node, Port: port})
	if err != nil {
		return 0, err
	}
	a, err := l.call(ctx, node, header{kind: kindResolve}, body)
	if err != nil {
		return 0, retryQuery(err)
	}
	if err := a.Status.Error(); err != nil {
		return 0, err
	}
	return mcapi.Endpoint(a.Endpoint), nil
}

// ChannelIsOpen implements [mcapi.Network].
func (l *Layer) ChannelIsOpen(ctx context.Context, ep mcapi.Endpoint) (bool, error) {
	a, err := l.call(ctx, ep.Node(), header{kind: kindIsOpen, recv: ep}, nil)
	if err != nil {
		return false, retryQuery(err)
	}
	if err := a.Status.Error(); err != nil {
		return false, err
	}
	return a.Open, nil
}

// SendToRemote implements [mcapi.Network]. The receiving node answers with
// its enqueue status, so a full remote queue surfaces as pkg.ErrMemLimit.
func (l *Layer) SendToRemote(ctx context.Context, send, recv mcapi.Endpoint, data []byte) error {
	a, err := l.call(ctx, recv.Node(), header{kind: kindData, send: send, recv: recv}, data)
	if err != nil {
		return err
	}
	return a.Status.Error()
}

// retryQuery turns a lost query into a retryable error. Queries have no
// side effects, so asking again is safe.
func retryQuery(err error) error {
	if errors.Is(err, pkg.ErrTimeout) {
		return fmt.Errorf("%w: %w", iox.ErrWouldBlock, err)
	}
	return err
}

// call sends a request to peer and waits for its acknowledgement.
func (l *Layer) call(ctx context.Context, peer uint32, h header, body []byte) (ack, error) {
	l.mutex.Lock()
	running, done := l.running, l.done
	l.mutex.Unlock()
	if !running {
		return ack{}, pkg.ErrNotRunning
	}
	dst, ok := l.mapping.Route(l.phys.Node(), peer)
	if !ok {
		return ack{}, fmt.Errorf("%w: node %d", pkg.ErrNoRoute, peer)
	}

	slot, ch, err := l.acquire(&h)
	if err != nil {
		return ack{}, err
	}
	defer l.release(slot)

	if err := l.send(ctx, dst.Base, h, body); err != nil {
		return ack{}, err
	}
	pkg.LogDebug(pkg.ComponentRouting, "call sent", "kind", h.kind, "call", h.call, "peer", peer)

	timer := time.NewTimer(l.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.kind != h.kind+1 {
			return ack{}, fmt.Errorf("%w: %v answered with %v", pkg.ErrGeneral, h.kind, r.kind)
		}
		var a ack
		if err := decodeBody(r.body, &a); err != nil {
			return ack{}, err
		}
		return a, nil
	case <-timer.C:
		pkg.LogWarn(pkg.ComponentRouting, "call timed out",
			"kind", h.kind, "call", h.call, "peer", peer, "session", l.session)
		return ack{}, fmt.Errorf("%w: %v call %d to node %d", pkg.ErrTimeout, h.kind, h.call, peer)
	case <-ctx.Done():
		return ack{}, ctx.Err()
	case <-done:
		return ack{}, pkg.ErrClosed
	}
}

// acquire reserves a call slot and stamps its fresh id into h.
func (l *Layer) acquire(h *header) (int, chan reply, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for i := range l.calls {
		c := &l.calls[i]
		if c.inUse {
			continue
		}
		c.inUse = true
		c.id = l.nextID.Add(1)
		c.ch = make(chan reply, 1)
		h.call = c.id
		return i, c.ch, nil
	}
	return 0, nil, fmt.Errorf("%w: no free call slot", iox.ErrWouldBlock)
}

func (l *Layer) release(slot int) {
	l.mutex.Lock()
	l.calls[slot] = call{}
	l.mutex.Unlock()
}

// answer hands an acknowledgement to the call waiting for it.
func (l *Layer) answer(id uint32, r reply) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for i := range l.calls {
		c := &l.calls[i]
		if c.inUse && c.id == id {
			select {
			case c.ch <- r:
			default:
			}
			return
		}
	}
	pkg.LogDebug(pkg.ComponentRouting, "late acknowledgement dropped", "kind", r.kind, "call", id)
}

// send frames a header and body onto the bridge at base.
func (l *Layer) send(ctx context.Context, base uint32, h header, body []byte) error {
	payload := fifo.Words(nil, body)
	if err := l.phys.Send(ctx, base, h.words(), payload, len(body)); err != nil {
		return fmt.Errorf("send %v: %w", h.kind, err)
	}
	return nil
}

// receive is the physical layer callback. It runs on a receive task:
// acknowledgements go straight to their call and requests are queued for
// the responder.
func (l *Layer) receive(p hal.PDU) {
	h, body, err := parseHeader(p.Data)
	if err != nil {
		pkg.LogWarn(pkg.ComponentRouting, "frame dropped", "base", p.Base, "error", err)
		return
	}
	peer, ok := l.mapping.Peer(l.phys.Node(), p.Base)
	if !ok {
		pkg.LogWarn(pkg.ComponentRouting, "frame from unknown bridge", "base", p.Base)
		return
	}

	if h.kind.isAck() {
		l.answer(h.call, reply{kind: h.kind, body: bytes.Clone(body)})
		return
	}

	l.mutex.Lock()
	work, done := l.work, l.done
	l.mutex.Unlock()
	select {
	case work <- incoming{base: p.Base, peer: peer, hdr: h, body: bytes.Clone(body)}:
	case <-done:
	}
}

// respond serves incoming requests in arrival order until ctx ends.
func (l *Layer) respond(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-l.work:
			l.serve(ctx, in)
		}
	}
}

// serve answers one request through the dispatcher.
func (l *Layer) serve(ctx context.Context, in incoming) {
	var a ack
	switch in.hdr.kind {
	case kindData:
		err := l.dispatch.Deliver(in.hdr.send, in.hdr.recv, in.body)
		a.Status = pkg.StatusOf(err)
	case kindResolve:
		var q resolveBody
		if err := decodeBody(in.body, &q); err != nil {
			a.Status = pkg.StatusGeneral
			break
		}
		h, err := l.dispatch.LookupEndpoint(q.Domain, q.Node, q.Port)
		a.Status = pkg.StatusOf(err)
		a.Endpoint = uint32(h)
	case kindIsOpen:
		open, err := l.dispatch.EndpointChannelIsOpen(in.hdr.recv)
		a.Status = pkg.StatusOf(err)
		a.Open = open
	}

	body, err := encodeBody(a)
	if err != nil {
		pkg.LogError(pkg.ComponentRouting, "encode acknowledgement", "error", err)
		return
	}
	h := in.hdr
	h.kind++
	if err := l.send(ctx, in.base, h, body); err != nil {
		pkg.LogWarn(pkg.ComponentRouting, "acknowledgement not sent",
			"kind", h.kind, "call", h.call, "peer", in.peer, "error", err)
		return
	}
	pkg.LogDebug(pkg.ComponentRouting, "request served",
		"kind", in.hdr.kind, "call", h.call, "peer", in.peer, "status", a.Status)
}

// Stats returns the frame counters of the physical layer.
func (l *Layer) Stats() fifo.Stats { return l.phys.Stats() }
