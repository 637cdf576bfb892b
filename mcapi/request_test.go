package mcapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/XCopter-HSU/XCopter/pkg"
)

func TestMessageSendRecv(t *testing.T) {
	n := newTestNode(t, testConfig())
	ctx := context.Background()
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)

	if err := n.MsgSend(ctx, a, b, []byte("hello"), 0); err != nil {
		t.Fatalf("MsgSend() error = %v", err)
	}
	if got, _ := n.MsgAvailable(b); got != 1 {
		t.Errorf("MsgAvailable() = %d, want 1", got)
	}

	buf := make([]byte, 16)
	size, err := n.MsgRecv(ctx, b, buf)
	if err != nil {
		t.Fatalf("MsgRecv() error = %v", err)
	}
	if string(buf[:size]) != "hello" {
		t.Errorf("MsgRecv() = %q, want %q", buf[:size], "hello")
	}
	if got := n.db.buffers.inUse(); got != 0 {
		t.Errorf("%d buffers in use after receive, want 0", got)
	}
}

func TestMessageErrors(t *testing.T) {
	n := newTestNode(t, testConfig())
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)

	if _, err := n.MsgSendI(a, b, make([]byte, 65), 0); !errors.Is(err, pkg.ErrMessageSize) {
		t.Errorf("oversize MsgSendI() error = %v, want ErrMessageSize", err)
	}
	if _, err := n.MsgSendI(a, Endpoint(0x00FF0000), []byte("x"), 0); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("MsgSendI() to invalid handle error = %v, want ErrInvalidEndpoint", err)
	}
	remote := NewCodec(1, 2, 8, 16).Endpoint(0, 1, 0)
	if _, err := n.MsgSendI(a, remote, []byte("x"), 0); !errors.Is(err, pkg.ErrNoRoute) {
		t.Errorf("MsgSendI() to remote node without network error = %v, want ErrNoRoute", err)
	}
}

func TestMessageTruncated(t *testing.T) {
	n := newTestNode(t, testConfig())
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)

	if _, err := n.MsgSendI(a, b, []byte("0123456789"), 0); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	size, err := n.MsgRecv(context.Background(), b, buf)
	if !errors.Is(err, pkg.ErrMessageTruncated) {
		t.Errorf("MsgRecv() error = %v, want ErrMessageTruncated", err)
	}
	if size != 4 || string(buf) != "0123" {
		t.Errorf("MsgRecv() = %d %q, want 4 %q", size, buf, "0123")
	}
	if got, _ := n.MsgAvailable(b); got != 0 {
		t.Errorf("truncated message left in queue: %d available", got)
	}
}

func TestReceivesCompleteInIssueOrder(t *testing.T) {
	n := newTestNode(t, testConfig())
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)

	var reqs [3]Request
	var bufs [3][]byte
	for i := range reqs {
		bufs[i] = make([]byte, 8)
		r, err := n.MsgRecvI(b, bufs[i])
		if err != nil {
			t.Fatalf("MsgRecvI() #%d error = %v", i, err)
		}
		if _, done, _ := n.Test(&r); done {
			t.Fatalf("receive #%d completed on an empty queue", i)
		}
		reqs[i] = r
	}

	for i := range 3 {
		msg := fmt.Sprintf("msg-%d", i)
		if _, err := n.MsgSendI(a, b, []byte(msg), 0); err != nil {
			t.Fatalf("MsgSendI(%s) error = %v", msg, err)
		}
	}

	for i := range reqs {
		var size int
		done := false
		for range 10 {
			var err error
			size, done, err = n.Test(&reqs[i])
			if err != nil {
				t.Fatalf("Test() #%d error = %v", i, err)
			}
			if done {
				break
			}
		}
		if !done {
			t.Fatalf("receive #%d never completed", i)
		}
		if want := fmt.Sprintf("msg-%d", i); string(bufs[i][:size]) != want {
			t.Errorf("receive #%d = %q, want %q", i, bufs[i][:size], want)
		}
		if reqs[i] != 0 {
			t.Errorf("Test() did not zero handle #%d", i)
		}
	}
}

func TestCancelThenTest(t *testing.T) {
	n := newTestNode(t, testConfig())
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)

	bufs := [3][]byte{make([]byte, 4), make([]byte, 4), make([]byte, 4)}
	var reqs [3]Request
	for i := range reqs {
		var err error
		if reqs[i], err = n.MsgRecvI(b, bufs[i]); err != nil {
			t.Fatal(err)
		}
	}

	if err := n.Cancel(&reqs[1]); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if err := n.Cancel(&reqs[1]); !errors.Is(err, pkg.ErrRequestCancelled) {
		t.Errorf("second Cancel() error = %v, want ErrRequestCancelled", err)
	}
	r := reqs[1]
	if _, done, err := n.Test(&reqs[1]); !done || !errors.Is(err, pkg.ErrRequestCancelled) {
		t.Errorf("Test() after Cancel: done=%v err=%v, want ErrRequestCancelled", done, err)
	}
	if _, _, err := n.Test(&r); !errors.Is(err, pkg.ErrRequestInvalid) {
		t.Errorf("second Test() after Cancel error = %v, want ErrRequestInvalid", err)
	}

	for _, msg := range []string{"a", "b"} {
		if _, err := n.MsgSendI(a, b, []byte(msg), 0); err != nil {
			t.Fatal(err)
		}
	}
	for i, want := range map[int]string{0: "a", 2: "b"} {
		size, done, err := n.Test(&reqs[i])
		if !done || err != nil {
			t.Fatalf("Test() #%d: done=%v err=%v", i, done, err)
		}
		if string(bufs[i][:size]) != want {
			t.Errorf("receive #%d = %q, want %q", i, bufs[i][:size], want)
		}
	}
}

func TestCancelCompleted(t *testing.T) {
	n := newTestNode(t, testConfig())
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)

	if _, err := n.MsgSendI(a, b, []byte("x"), 0); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	r, err := n.MsgRecvI(b, buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Cancel(&r); err != nil {
		t.Errorf("Cancel() of completed request error = %v, want nil", err)
	}
	if size, done, err := n.Test(&r); !done || err != nil || size != 1 {
		t.Errorf("Test() = %d, %v, %v, want 1, true, nil", size, done, err)
	}
	if err := n.Cancel(&r); !errors.Is(err, pkg.ErrRequestInvalid) {
		t.Errorf("Cancel() of released request error = %v, want ErrRequestInvalid", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	n := newTestNode(t, testConfig())
	ctx := context.Background()
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)

	buf := make([]byte, 8)
	r, err := n.MsgRecvI(b, buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Wait(ctx, &r, 10*time.Millisecond); !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
	if r == 0 {
		t.Fatal("timed-out request was released")
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		n.MsgSend(ctx, a, b, []byte("late"), 0)
	}()
	size, err := n.Wait(ctx, &r, Infinite)
	if err != nil || string(buf[:size]) != "late" {
		t.Errorf("Wait() = %q, %v", buf[:size], err)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	n := newTestNode(t, testConfig())
	b := mustCreate(t, n, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := n.MsgRecv(ctx, b, make([]byte, 4)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("MsgRecv() error = %v, want DeadlineExceeded", err)
	}
	tx := n.db.lock()
	pending := tx.db.reserves.count
	tx.unlock()
	if pending != 0 {
		t.Errorf("%d requests outstanding after abandoned receive, want 0", pending)
	}
}

func TestWaitAny(t *testing.T) {
	n := newTestNode(t, testConfig())
	ctx := context.Background()
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)
	c := mustCreate(t, n, 3)

	r1, _ := n.MsgRecvI(b, make([]byte, 4))
	buf := make([]byte, 4)
	r2, _ := n.MsgRecvI(c, buf)
	reqs := []Request{r1, r2}

	if _, _, err := n.WaitAny(ctx, reqs, 5*time.Millisecond); !errors.Is(err, pkg.ErrTimeout) {
		t.Errorf("WaitAny() error = %v, want ErrTimeout", err)
	}

	if err := n.MsgSend(ctx, a, c, []byte("c"), 0); err != nil {
		t.Fatal(err)
	}
	i, size, err := n.WaitAny(ctx, reqs, time.Second)
	if err != nil || i != 1 || string(buf[:size]) != "c" {
		t.Errorf("WaitAny() = %d, %q, %v, want 1, %q, nil", i, buf[:size], err, "c")
	}
	if reqs[1] != 0 || reqs[0] == 0 {
		t.Errorf("WaitAny() handles = %v", reqs)
	}

	if _, _, err := n.WaitAny(ctx, []Request{0, 0}, Infinite); !errors.Is(err, pkg.ErrRequestInvalid) {
		t.Errorf("WaitAny() of zero handles error = %v, want ErrRequestInvalid", err)
	}
}

func TestQueueFullMemLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueElements = 4
	n := newTestNode(t, cfg)
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)

	for i := range 4 {
		r, err := n.MsgSendI(a, b, []byte{byte(i)}, 0)
		if err != nil {
			t.Fatalf("MsgSendI() #%d error = %v", i, err)
		}
		if _, done, err := n.Test(&r); !done || err != nil {
			t.Fatalf("send #%d: done=%v err=%v", i, done, err)
		}
	}
	r, err := n.MsgSendI(a, b, []byte{4}, 0)
	if !errors.Is(err, pkg.ErrMemLimit) {
		t.Errorf("MsgSendI() on full queue error = %v, want ErrMemLimit", err)
	}
	if r != 0 {
		t.Errorf("failed MsgSendI() returned request %#x", uint32(r))
	}
}

func TestBufferPoolLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBuffers = 2
	n := newTestNode(t, cfg)
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)
	c := mustCreate(t, n, 3)

	n.MsgSendI(a, b, []byte("1"), 0)
	n.MsgSendI(a, c, []byte("2"), 0)
	if _, err := n.MsgSendI(a, b, []byte("3"), 0); !errors.Is(err, pkg.ErrMemLimit) {
		t.Errorf("MsgSendI() with pool exhausted error = %v, want ErrMemLimit", err)
	}
}

func TestRequestLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequests = 2
	n := newTestNode(t, cfg)
	b := mustCreate(t, n, 2)

	for range 2 {
		if _, err := n.MsgRecvI(b, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := n.MsgRecvI(b, nil); !errors.Is(err, pkg.ErrRequestLimit) {
		t.Errorf("MsgRecvI() with table full error = %v, want ErrRequestLimit", err)
	}
}

func TestBlockingSendWaitsForSpace(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueElements = 1
	n := newTestNode(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a := mustCreate(t, n, 1)
	b := mustCreate(t, n, 2)

	if err := n.MsgSend(ctx, a, b, []byte("first"), 0); err != nil {
		t.Fatal(err)
	}
	sent := make(chan error, 1)
	go func() {
		sent <- n.MsgSend(ctx, a, b, []byte("second"), 0)
	}()

	select {
	case err := <-sent:
		t.Fatalf("MsgSend() on full queue returned early: %v", err)
	case <-time.After(10 * time.Millisecond):
	}

	buf := make([]byte, 8)
	for _, want := range []string{"first", "second"} {
		size, err := n.MsgRecv(ctx, b, buf)
		if err != nil || string(buf[:size]) != want {
			t.Errorf("MsgRecv() = %q, %v, want %q", buf[:size], err, want)
		}
	}
	if err := <-sent; err != nil {
		t.Errorf("blocked MsgSend() error = %v", err)
	}
}

func TestTestInvalidHandle(t *testing.T) {
	n := newTestNode(t, testConfig())
	for _, r := range []Request{0, 3, Request(requestValid | 100), Request(requestValid | 1)} {
		if _, done, err := n.Test(&r); done || !errors.Is(err, pkg.ErrRequestInvalid) {
			t.Errorf("Test(%#x) = %v, %v, want ErrRequestInvalid", uint32(r), done, err)
		}
	}
	if err := n.Cancel(new(Request)); !errors.Is(err, pkg.ErrRequestInvalid) {
		t.Errorf("Cancel(0) error = %v, want ErrRequestInvalid", err)
	}
}

func TestDeliverSizes(t *testing.T) {
	n := newTestNode(t, testConfig())
	b := mustCreate(t, n, 2)
	if err := n.Deliver(0, b, bytes.Repeat([]byte{1}, 65)); !errors.Is(err, pkg.ErrMessageSize) {
		t.Errorf("Deliver() oversize error = %v, want ErrMessageSize", err)
	}
	if err := n.Deliver(0, Endpoint(7), nil); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("Deliver() to missing endpoint error = %v, want ErrInvalidEndpoint", err)
	}
}
