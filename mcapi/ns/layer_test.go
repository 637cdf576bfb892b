package ns

import (
	"bytes"
	"context"
	"testing"
	"time"

	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XCopter-HSU/XCopter/mcapi"
	"github.com/XCopter-HSU/XCopter/mcapi/hal"
	"github.com/XCopter-HSU/XCopter/mcapi/hal/fifo"
	"github.com/XCopter-HSU/XCopter/pkg"
)

type board struct {
	mapping hal.Mapping
	fabric  *fifo.Fabric
	nodes   []*mcapi.Node
	nets    []*Layer
}

func nodeConfig() mcapi.Config {
	cfg := mcapi.DefaultConfig()
	cfg.MaxDomains = 1
	cfg.MaxNodes = 3
	return cfg
}

// startBoard runs n nodes on an in-memory fabric.
func startBoard(t *testing.T, n int, cfg mcapi.Config) *board {
	t.Helper()
	skipRace(t)
	b := &board{mapping: hal.DefaultMapping(n)}
	b.fabric = fifo.NewFabric(b.mapping, fifo.DefaultConfig())
	for i := range n {
		phys := fifo.New(uint32(i), b.mapping, b.fabric, fifo.DefaultConfig())
		net := New(phys, b.mapping, DefaultConfig())
		node, err := mcapi.Initialize(context.Background(), 0, uint32(i), nil, cfg, net)
		require.NoError(t, err, "node %d", i)
		b.nodes = append(b.nodes, node)
		b.nets = append(b.nets, net)
	}
	t.Cleanup(func() {
		for _, node := range b.nodes {
			node.Finalize()
		}
	})
	return b
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRemoteMessage(t *testing.T) {
	b := startBoard(t, 3, nodeConfig())
	ctx := testContext(t)
	n0, n1 := b.nodes[0], b.nodes[1]

	a, err := n0.EndpointCreate(1)
	require.NoError(t, err)
	local, err := n1.EndpointCreate(2)
	require.NoError(t, err)

	remote, err := n0.EndpointGet(ctx, 0, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, local, remote)
	assert.False(t, n0.EndpointIsOwner(remote))

	require.NoError(t, n0.MsgSend(ctx, a, remote, []byte("ping"), 0))
	buf := make([]byte, 16)
	size, err := n1.MsgRecv(ctx, local, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:size]))

	back, err := n1.EndpointGet(ctx, 0, 0, 1)
	require.NoError(t, err)
	require.NoError(t, n1.MsgSend(ctx, local, back, []byte("pong"), 0))
	size, err = n0.MsgRecv(ctx, a, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:size]))
}

func TestResolvePending(t *testing.T) {
	b := startBoard(t, 3, nodeConfig())
	ctx := testContext(t)

	var ep mcapi.Endpoint
	r, err := b.nodes[0].EndpointGetI(0, 2, 7, &ep)
	require.NoError(t, err)
	_, done, err := b.nodes[0].Test(&r)
	require.NoError(t, err)
	require.False(t, done, "resolve completed before the port existed")

	created, err := b.nodes[2].EndpointCreate(7)
	require.NoError(t, err)
	_, err = b.nodes[0].Wait(ctx, &r, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, created, ep)
}

func TestRemoteQueueFull(t *testing.T) {
	cfg := nodeConfig()
	cfg.MaxQueueElements = 2
	b := startBoard(t, 2, cfg)
	ctx := testContext(t)
	n0, n1 := b.nodes[0], b.nodes[1]

	a, err := n0.EndpointCreate(1)
	require.NoError(t, err)
	dst, err := n1.EndpointCreate(2)
	require.NoError(t, err)
	remote, err := n0.EndpointGet(ctx, 0, 1, 2)
	require.NoError(t, err)

	for i := range 2 {
		_, err := n0.MsgSendI(a, remote, []byte{byte(i)}, 0)
		require.NoError(t, err)
	}
	_, err = n0.MsgSendI(a, remote, []byte{2}, 0)
	require.ErrorIs(t, err, pkg.ErrMemLimit)

	sent := make(chan error, 1)
	go func() { sent <- n0.MsgSend(ctx, a, remote, []byte{3}, 0) }()

	buf := make([]byte, 1)
	for _, want := range []byte{0, 1, 3} {
		_, err := n1.MsgRecv(ctx, dst, buf)
		require.NoError(t, err)
		assert.Equal(t, want, buf[0])
	}
	require.NoError(t, <-sent)
}

// connectRemote connects send on node s to recv on node r as a packet or
// scalar channel and opens both sides.
func connectRemote(t *testing.T, ctx context.Context, s, r *mcapi.Node, send, recv mcapi.Endpoint, typ mcapi.ChannelType) {
	t.Helper()
	connect := s.PktChanConnectI
	sendOpen, recvOpen := s.PktChanSendOpenI, r.PktChanRecvOpenI
	peerConnect := r.PktChanConnectI
	if typ == mcapi.ChannelScalar {
		connect, peerConnect = s.SclChanConnectI, r.SclChanConnectI
		sendOpen, recvOpen = s.SclChanSendOpenI, r.SclChanRecvOpenI
	}

	req, err := connect(send, recv)
	require.NoError(t, err)
	_, err = s.Wait(ctx, &req, mcapi.Infinite)
	require.NoError(t, err)
	req, err = peerConnect(send, recv)
	require.NoError(t, err)
	_, err = r.Wait(ctx, &req, mcapi.Infinite)
	require.NoError(t, err)

	rs, err := sendOpen(send)
	require.NoError(t, err)
	rr, err := recvOpen(recv)
	require.NoError(t, err)
	_, err = s.Wait(ctx, &rs, 5*time.Second)
	require.NoError(t, err, "send side open")
	_, err = r.Wait(ctx, &rr, 5*time.Second)
	require.NoError(t, err, "receive side open")
}

func TestRemotePacketChannel(t *testing.T) {
	b := startBoard(t, 2, nodeConfig())
	ctx := testContext(t)
	n0, n1 := b.nodes[0], b.nodes[1]

	a, err := n0.EndpointCreate(5)
	require.NoError(t, err)
	bEP, err := n1.EndpointCreate(6)
	require.NoError(t, err)
	remoteB, err := n0.EndpointGet(ctx, 0, 1, 6)
	require.NoError(t, err)
	connectRemote(t, ctx, n0, n1, a, remoteB, mcapi.ChannelPacket)

	open, err := n1.ChannelIsOpen(bEP)
	require.NoError(t, err)
	assert.True(t, open)

	const count = 63
	sent := make(chan error, 1)
	go func() {
		for size := 1; size <= count; size++ {
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(i % 256)
			}
			if err := n0.PktChanSend(ctx, a, data); err != nil {
				sent <- err
				return
			}
		}
		sent <- nil
	}()

	for size := 1; size <= count; size++ {
		buf, err := n1.PktChanRecv(ctx, bEP)
		require.NoError(t, err, "packet %d", size)
		want := make([]byte, size)
		for i := range want {
			want[i] = byte(i % 256)
		}
		require.True(t, bytes.Equal(want, buf.Data), "packet %d = %x", size, buf.Data)
		require.NoError(t, n1.PktChanFree(buf))
	}
	require.NoError(t, <-sent)

	cs, err := n0.PktChanSendCloseI(a)
	require.NoError(t, err)
	cr, err := n1.PktChanRecvCloseI(bEP)
	require.NoError(t, err)
	_, err = n0.Wait(ctx, &cs, 5*time.Second)
	require.NoError(t, err, "send side close")
	_, err = n1.Wait(ctx, &cr, 5*time.Second)
	require.NoError(t, err, "receive side close")

	connected, err := n0.ChannelConnected(a)
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestRemoteScalarChannel(t *testing.T) {
	b := startBoard(t, 3, nodeConfig())
	ctx := testContext(t)
	n2, n1 := b.nodes[2], b.nodes[1]

	s, err := n2.EndpointCreate(1)
	require.NoError(t, err)
	r, err := n1.EndpointCreate(1)
	require.NoError(t, err)
	remoteR, err := n2.EndpointGet(ctx, 0, 1, 1)
	require.NoError(t, err)
	connectRemote(t, ctx, n2, n1, s, remoteR, mcapi.ChannelScalar)

	require.NoError(t, n2.SclChanSendUint64(ctx, s, 0x0102030405060708))
	require.NoError(t, n2.SclChanSendUint8(ctx, s, 0xEE))

	v64, err := n1.SclChanRecvUint64(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), v64)
	v8, err := n1.SclChanRecvUint8(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, uint8(0xEE), v8)
}

func TestStartTwice(t *testing.T) {
	b := startBoard(t, 2, nodeConfig())
	_, err := mcapi.Initialize(context.Background(), 0, 0, nil, nodeConfig(), b.nets[0])
	require.ErrorIs(t, err, pkg.ErrAlreadyInitialized)
}

func TestCallTableFull(t *testing.T) {
	b := startBoard(t, 2, nodeConfig())
	l := b.nets[0]

	for range DefaultConfig().MaxCalls {
		var h header
		_, _, err := l.acquire(&h)
		require.NoError(t, err)
	}
	var h header
	_, _, err := l.acquire(&h)
	require.True(t, iox.IsWouldBlock(err), "acquire() error = %v", err)

	_, err = l.ResolveEndpoint(context.Background(), 0, 1, 1)
	require.True(t, pkg.IsRetryable(err), "ResolveEndpoint() error = %v", err)

	l.release(0)
	_, _, err = l.acquire(&h)
	require.NoError(t, err)
}

func TestUnknownRoute(t *testing.T) {
	b := startBoard(t, 2, nodeConfig())
	_, err := b.nets[0].ResolveEndpoint(context.Background(), 0, 2, 1)
	require.ErrorIs(t, err, pkg.ErrNoRoute)
	_, err = b.nets[0].ResolveEndpoint(context.Background(), 1, 1, 1)
	require.ErrorIs(t, err, pkg.ErrNoRoute)
}

func TestCloseStopsRouting(t *testing.T) {
	b := startBoard(t, 2, nodeConfig())
	require.NoError(t, b.nodes[1].Finalize())
	require.ErrorIs(t, b.nets[1].Close(), pkg.ErrNotRunning)
	_, err := b.nets[1].ResolveEndpoint(context.Background(), 0, 0, 1)
	require.ErrorIs(t, err, pkg.ErrNotRunning)
}
