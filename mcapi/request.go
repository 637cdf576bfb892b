package mcapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/XCopter-HSU/XCopter/pkg"
)

// Infinite disables the timeout of [Node.Wait] and [Node.WaitAny].
const Infinite time.Duration = -1

type requestKind uint8

const (
	requestNone requestKind = iota
	requestSend
	requestRecv
	requestGetEndpoint
	requestConnect
	requestOpen
	requestClose
)

func (k requestKind) String() string {
	switch k {
	case requestSend:
		return "send"
	case requestRecv:
		return "recv"
	case requestGetEndpoint:
		return "get-endpoint"
	case requestConnect:
		return "connect"
	case requestOpen:
		return "open"
	case requestClose:
		return "close"
	default:
		return "none"
	}
}

// request is one slot of the request table.
type request struct {
	valid     bool
	handle    Request
	serial    uint32
	kind      requestKind
	completed bool
	cancelled bool
	status    pkg.Status
	size      int

	// endpoint is the local endpoint the request acts on; peer is the other
	// end of its channel for open and close.
	endpoint Endpoint
	peer     Endpoint

	// Output locations written on completion.
	buffer  []byte
	pktOut  *PacketBuffer
	sclOut  *uint64
	sclSize int
	epOut   *Endpoint

	getDomain uint32
	getNode   uint32
	getPort   uint32
}

// reserveRequest claims a free slot of the request table.
func (tx *locked) reserveRequest(kind requestKind) (*request, error) {
	tx.mustHold()
	i, ok := tx.db.reserves.reserve()
	if !ok {
		return nil, pkg.ErrRequestLimit
	}
	r := &tx.db.requests[i]
	pkg.Assert(!r.valid, pkg.ComponentRequest, "free request %d still valid", i)
	serial := r.serial + 1
	*r = request{
		valid:  true,
		handle: tx.db.codec.Request(i),
		serial: serial,
		kind:   kind,
		status: pkg.StatusPending,
	}
	return r, nil
}

// releaseRequest returns r to the free list.
func (tx *locked) releaseRequest(r *request) {
	i, ok := tx.db.codec.DecodeRequest(r.handle)
	pkg.Assert(ok && r.valid, pkg.ComponentRequest, "release of invalid request %#x", uint32(r.handle))
	*r = request{serial: r.serial}
	tx.db.reserves.release(i)
	tx.touch()
}

// complete records the outcome of r.
func (tx *locked) complete(r *request, status pkg.Status, size int) {
	r.completed = true
	r.status = status
	r.size = size
	tx.touch()
	pkg.LogDebug(pkg.ComponentRequest, "request completed",
		"request", uint32(r.handle), "kind", r.kind, "status", status, "size", size)
}

// request resolves a handle to a valid table entry.
func (tx *locked) request(h Request) (*request, error) {
	tx.mustHold()
	i, ok := tx.db.codec.DecodeRequest(h)
	if !ok || !tx.db.requests[i].valid {
		return nil, pkg.ErrRequestInvalid
	}
	return &tx.db.requests[i], nil
}

// check tries to complete a pending request whose completion depends only
// on local state.
func (tx *locked) check(r *request) {
	switch r.kind {
	case requestRecv:
		tx.checkRecv(r)
	case requestGetEndpoint:
		if h, ok := tx.lookup(r.getPort); ok {
			*r.epOut = h
			tx.complete(r, pkg.StatusSuccess, 0)
		}
	case requestOpen:
		tx.finishOpen(r, tx.peerOpen(r))
	case requestClose:
		tx.finishClose(r, !tx.peerOpen(r))
	}
}

func (tx *locked) checkRecv(r *request) {
	ep, err := tx.endpoint(r.endpoint)
	if err != nil {
		tx.complete(r, pkg.StatusInvalidEndpoint, 0)
		return
	}
	slot := ep.queue.find(r.handle)
	pkg.Assert(slot >= 0, pkg.ComponentRequest, "receive %#x has no reservation on %v", uint32(r.handle), r.endpoint)
	if ep.queue.slots[slot].hasBuffer() {
		tx.receive(r, ep.queue.complete(slot))
	}
}

// receive hands pool buffer b to a receive request. Packet receives keep
// the buffer until it is freed; message and scalar receives copy it out.
func (tx *locked) receive(r *request, b int) {
	p := &tx.db.buffers
	if r.sclOut != nil {
		status, size := pkg.StatusSuccess, p.size(b)
		if size == r.sclSize {
			*r.sclOut = p.scalar(b)
		} else {
			status = pkg.StatusScalarSize
		}
		p.release(b)
		tx.complete(r, status, size)
		return
	}
	data := p.bytes(b)
	if r.pktOut != nil {
		*r.pktOut = PacketBuffer{Data: data, index: b, gen: p.gen(b)}
		tx.complete(r, pkg.StatusSuccess, len(data))
		return
	}
	status := pkg.StatusSuccess
	n := copy(r.buffer, data)
	if n < len(data) {
		status = pkg.StatusMessageTruncated
	}
	p.release(b)
	tx.complete(r, status, n)
}

// peerOpen reports whether the local peer of an open or close request is
// open on the same channel.
func (tx *locked) peerOpen(r *request) bool {
	ep, err := tx.endpoint(r.endpoint)
	if err != nil {
		return false
	}
	peer, err := tx.endpoint(r.peer)
	return err == nil && peer.open && peer.channel != 0 && peer.channel == ep.channel
}

// finishOpen completes an open once both ends report open.
func (tx *locked) finishOpen(r *request, peerOpen bool) {
	ep, err := tx.endpoint(r.endpoint)
	switch {
	case err != nil || !ep.connected:
		tx.complete(r, pkg.StatusChannelNotOpen, 0)
	case ep.open && peerOpen:
		tx.complete(r, pkg.StatusSuccess, 0)
	}
}

// finishClose completes a close once the peer no longer reports open and
// tears down the local side of the channel.
func (tx *locked) finishClose(r *request, peerClosed bool) {
	ep, err := tx.endpoint(r.endpoint)
	if err != nil {
		tx.complete(r, pkg.StatusInvalidEndpoint, 0)
		return
	}
	if !peerClosed && ep.connected {
		return
	}
	tx.disconnect(ep)
	tx.complete(r, pkg.StatusSuccess, 0)
}

// remoteCheck returns the part of a pending request's check that must run
// without the lock, or nil when the check is local. The returned function
// performs the remote query and yields the locked continuation.
func (n *Node) remoteCheck(tx *locked, r *request) func(ctx context.Context) func(*locked, *request) {
	switch r.kind {
	case requestGetEndpoint:
		if tx.isLocal(int(r.getDomain), int(r.getNode)) {
			return nil
		}
		d, nd, port := r.getDomain, r.getNode, r.getPort
		return func(ctx context.Context) func(*locked, *request) {
			h, err := n.net.ResolveEndpoint(ctx, d, nd, port)
			return func(tx *locked, r *request) {
				switch {
				case err == nil:
					*r.epOut = h
					tx.complete(r, pkg.StatusSuccess, 0)
				case errors.Is(err, pkg.ErrInvalidEndpoint), pkg.IsRetryable(err), stopped(err):
				default:
					pkg.LogWarn(pkg.ComponentRequest, "resolve failed", "domain", d, "node", nd, "port", port, "error", err)
					tx.complete(r, pkg.StatusGeneral, 0)
				}
			}
		}
	case requestOpen, requestClose:
		if local, _ := tx.local(r.peer); local {
			return nil
		}
		peer := r.peer
		return func(ctx context.Context) func(*locked, *request) {
			open, err := n.net.ChannelIsOpen(ctx, peer)
			return func(tx *locked, r *request) {
				if err != nil {
					if !pkg.IsRetryable(err) && !stopped(err) {
						pkg.LogWarn(pkg.ComponentRequest, "channel query failed", "peer", peer, "error", err)
						tx.complete(r, pkg.StatusGeneral, 0)
					}
					return
				}
				if r.kind == requestOpen {
					tx.finishOpen(r, open)
				} else {
					tx.finishClose(r, !open)
				}
			}
		}
	}
	return nil
}

// stopped reports whether a remote query ended because its context did.
// The request stays pending.
func stopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Test polls a request without blocking. When the request has finished,
// done is true, the slot is released and *r is zeroed; err carries the
// completion status. A cancelled request reports ErrRequestCancelled
// exactly once.
func (n *Node) Test(r *Request) (size int, done bool, err error) {
	return n.test(n.ctx, r)
}

// test is Test with the remote query bounded by ctx. A query cut short by
// ctx leaves the request pending.
func (n *Node) test(ctx context.Context, r *Request) (size int, done bool, err error) {
	if r == nil {
		return 0, false, pkg.ErrInvalidParameter
	}
	tx, err := n.begin()
	if err != nil {
		return 0, false, err
	}
	req, err := tx.request(*r)
	if err != nil {
		tx.unlock()
		return 0, false, err
	}
	if !req.completed && !req.cancelled {
		if query := n.remoteCheck(tx, req); query != nil {
			serial := req.serial
			tx.unlock()
			apply := query(ctx)
			tx = n.db.lock()
			if req, err = tx.request(*r); err != nil {
				tx.unlock()
				return 0, false, err
			}
			if req.serial == serial && !req.completed && !req.cancelled {
				apply(tx, req)
			}
		} else {
			tx.check(req)
		}
	}
	defer tx.unlock()

	switch {
	case req.cancelled:
		tx.releaseRequest(req)
		*r = 0
		return 0, true, pkg.ErrRequestCancelled
	case !req.completed:
		return 0, false, nil
	}
	size, status := req.size, req.status
	tx.releaseRequest(req)
	*r = 0
	return size, true, status.Error()
}

// Wait blocks until the request finishes, the timeout elapses or ctx is
// done. A timed-out request stays outstanding.
func (n *Node) Wait(ctx context.Context, r *Request, timeout time.Duration) (int, error) {
	if r == nil {
		return 0, pkg.ErrInvalidParameter
	}
	reqs := [1]Request{*r}
	_, size, err := n.WaitAny(ctx, reqs[:], timeout)
	*r = reqs[0]
	return size, err
}

// WaitAny blocks until one of reqs finishes and returns its index. The
// finished handle is zeroed in reqs. Zero handles are skipped; if every
// handle is zero WaitAny fails with ErrRequestInvalid.
func (n *Node) WaitAny(ctx context.Context, reqs []Request, timeout time.Duration) (int, int, error) {
	// Remote queries run under qctx, so the timeout also cuts them short.
	qctx := ctx
	if timeout >= 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	poll := time.NewTicker(n.cfg.PollInterval)
	defer poll.Stop()

	for {
		changed := n.db.notifier()
		pending := 0
		for i := range reqs {
			if reqs[i] == 0 {
				continue
			}
			pending++
			size, done, err := n.test(qctx, &reqs[i])
			if done || err != nil {
				return i, size, err
			}
			if qctx.Err() != nil {
				break
			}
		}
		if pending == 0 {
			return -1, 0, pkg.ErrRequestInvalid
		}

		select {
		case <-ctx.Done():
			return -1, 0, ctx.Err()
		case <-qctx.Done():
			if err := ctx.Err(); err != nil {
				return -1, 0, err
			}
			return -1, 0, pkg.ErrTimeout
		case <-changed:
		case <-poll.C:
		}
	}
}

// Cancel stops an outstanding receive or endpoint lookup. A receive gives
// up its queue reservation; the slot itself is released by the next Test,
// which reports ErrRequestCancelled. Cancelling a completed request is a
// no-op. Pending opens and closes cannot be cancelled and report
// ErrRequestInvalid.
func (n *Node) Cancel(r *Request) error {
	if r == nil {
		return pkg.ErrInvalidParameter
	}
	tx, err := n.begin()
	if err != nil {
		return err
	}
	defer tx.unlock()

	req, err := tx.request(*r)
	switch {
	case err != nil:
		return err
	case req.cancelled:
		return pkg.ErrRequestCancelled
	case req.completed:
		return nil
	case req.kind != requestRecv && req.kind != requestGetEndpoint:
		return fmt.Errorf("%w: %v request cannot be cancelled", pkg.ErrRequestInvalid, req.kind)
	}

	if req.kind == requestRecv {
		if ep, err := tx.endpoint(req.endpoint); err == nil {
			if slot := ep.queue.find(req.handle); slot >= 0 {
				ep.queue.unreserve(slot)
			}
		}
	}
	req.cancelled = true
	tx.touch()
	pkg.LogDebug(pkg.ComponentRequest, "request cancelled", "request", uint32(*r), "kind", req.kind)
	return nil
}

// retry runs a non-blocking operation until it stops failing with a
// retryable error, sleeping on database changes in between. Remote
// backpressure produces no local change, so the poll interval bounds each
// sleep.
func (n *Node) retry(ctx context.Context, op func() (Request, error)) (Request, error) {
	timer := time.NewTimer(n.cfg.PollInterval)
	defer timer.Stop()
	for attempt := 0; ; attempt++ {
		changed := n.db.notifier()
		r, err := op()
		if err == nil || !pkg.IsRetryable(err) {
			return r, err
		}
		if attempt == 0 {
			pkg.LogDebug(pkg.ComponentRequest, "resource limit, retrying", "error", err)
		}
		timer.Reset(n.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-changed:
		case <-timer.C:
		}
	}
}

// block runs a non-blocking operation to completion.
func (n *Node) block(ctx context.Context, op func() (Request, error)) (int, error) {
	r, err := n.retry(ctx, op)
	if err != nil {
		return 0, err
	}
	size, err := n.Wait(ctx, &r, Infinite)
	if ctx.Err() != nil && r != 0 && n.Cancel(&r) == nil {
		// A completion that raced the cancellation still counts.
		if s, done, terr := n.Test(&r); done && !errors.Is(terr, pkg.ErrRequestCancelled) {
			return s, terr
		}
	}
	return size, err
}
