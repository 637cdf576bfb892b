package fifo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/google/uuid"

	"github.com/XCopter-HSU/XCopter/mcapi/hal"
	"github.com/XCopter-HSU/XCopter/pkg"
)

// pipePoll bounds how long a pipe read or write waits before rechecking
// for close.
const pipePoll = 100 * time.Millisecond

// PipeBus is a board whose bridges are named pipes in one directory. The
// processes running the nodes of a board share the directory:
//
//	/tmp/mcapi/bus-{uuid}/
//	├── link-0-1    # words from node 0 to node 1
//	├── link-1-0
//	└── ...
type PipeBus struct {
	dir string
	cfg Config

	mutex sync.Mutex
	open  map[[2]uint32]bool
}

var _ BridgeSource = (*PipeBus)(nil)

// CreatePipeBus creates a new bus directory bus-{uuid} under root.
func CreatePipeBus(root string, cfg Config) (*PipeBus, error) {
	return OpenPipeBus(filepath.Join(root, "bus-"+uuid.New().String()), cfg)
}

// OpenPipeBus attaches to the bus directory dir, creating it if needed.
func OpenPipeBus(dir string, cfg Config) (*PipeBus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bus dir: %w", err)
	}
	return &PipeBus{dir: dir, cfg: cfg, open: make(map[[2]uint32]bool)}, nil
}

// Dir returns the bus directory.
func (b *PipeBus) Dir() string { return b.dir }

// Remove deletes the bus directory and every pipe in it.
func (b *PipeBus) Remove() error {
	return os.RemoveAll(b.dir)
}

// Open implements [BridgeSource].
func (b *PipeBus) Open(node, peer uint32, dst hal.Destination) (hal.Bridge, error) {
	key := [2]uint32{node, peer}
	b.mutex.Lock()
	if b.open[key] {
		b.mutex.Unlock()
		return nil, fmt.Errorf("bridge %d->%d: %w", node, peer, pkg.ErrAlreadyRunning)
	}
	b.open[key] = true
	b.mutex.Unlock()

	br, err := b.openBridge(node, peer)
	if err != nil {
		b.release(key)
		return nil, err
	}
	br.key = key

	go br.reader()
	pkg.LogDebug(pkg.ComponentFIFO, "pipe bridge opened",
		"dir", b.dir, "node", node, "peer", peer, "base", dst.Base)
	return br, nil
}

func (b *PipeBus) openBridge(node, peer uint32) (*PipeBridge, error) {
	out := b.linkName(node, peer)
	in := b.linkName(peer, node)
	if err := b.createFIFO(out); err != nil {
		return nil, err
	}
	if err := b.createFIFO(in); err != nil {
		return nil, err
	}

	// O_RDWR keeps both ends from blocking on open while the peer process
	// is not there yet.
	sendFile, err := b.openFIFO(out, os.O_RDWR|syscall.O_NONBLOCK)
	if err != nil {
		return nil, err
	}
	recvFile, err := b.openFIFO(in, os.O_RDWR|syscall.O_NONBLOCK)
	if err != nil {
		sendFile.Close()
		return nil, err
	}
	return &PipeBridge{
		bus:      b,
		sendFile: sendFile,
		recvFile: recvFile,
		depth:    uint32(b.cfg.Depth),
		recv:     newWire(b.cfg.Depth),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (b *PipeBus) linkName(from, to uint32) string {
	return fmt.Sprintf("link-%d-%d", from, to)
}

// createFIFO creates the named pipe unless the peer process already did.
func (b *PipeBus) createFIFO(name string) error {
	path := filepath.Join(b.dir, name)
	if err := syscall.Mkfifo(path, 0o666); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

// openFIFO opens a named pipe with the given flags.
func (b *PipeBus) openFIFO(name string, flag int) (*os.File, error) {
	path := filepath.Join(b.dir, name)
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

func (b *PipeBus) release(key [2]uint32) {
	b.mutex.Lock()
	delete(b.open, key)
	b.mutex.Unlock()
}

// PipeBridge is a [hal.Bridge] over a pair of named pipes. A reader
// goroutine moves words from the incoming pipe into a receive FIFO of
// Config.Depth words.
type PipeBridge struct {
	bus      *PipeBus
	key      [2]uint32
	sendFile *os.File
	recvFile *os.File
	depth    uint32
	recv     *wire

	closed    atomix.Uint32
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	writeBuf [4]byte
}

var _ hal.Bridge = (*PipeBridge)(nil)

// WriteData implements [hal.Bridge]. Writes of one word are atomic on a
// pipe, so a full pipe refuses the whole word.
func (b *PipeBridge) WriteData(word uint32) error {
	if b.closed.Load() != 0 {
		return pkg.ErrClosed
	}
	binary.LittleEndian.PutUint32(b.writeBuf[:], word)
	b.sendFile.SetWriteDeadline(time.Now().Add(pipePoll))
	if _, err := b.sendFile.Write(b.writeBuf[:]); err != nil {
		if os.IsTimeout(err) {
			return iox.ErrWouldBlock
		}
		return fmt.Errorf("write link %d->%d: %w", b.key[0], b.key[1], err)
	}
	return nil
}

// ReadData implements [hal.Bridge].
func (b *PipeBridge) ReadData() (uint32, error) {
	if b.closed.Load() != 0 {
		return 0, pkg.ErrClosed
	}
	return b.recv.pop()
}

// SendLevel implements [hal.Bridge]. A pipe does not expose its fill
// level; WriteData reports a full pipe instead.
func (b *PipeBridge) SendLevel() int { return 0 }

// RecvLevel implements [hal.Bridge].
func (b *PipeBridge) RecvLevel() int { return int(b.recv.level()) }

// Status implements [hal.Bridge].
func (b *PipeBridge) Status() uint32 {
	return levelStatus(0, b.depth, 0) | levelStatus(b.recv.level(), b.depth, 4)
}

// Clear implements [hal.Bridge]. Words still in the pipe are not affected.
func (b *PipeBridge) Clear() {
	for {
		if _, err := b.recv.pop(); err != nil {
			return
		}
	}
}

// EnableInterrupt implements [hal.Bridge].
func (b *PipeBridge) EnableInterrupt(mask uint32) {
	b.recv.irq.enable(mask, b.recv.level() > 0)
}

// Interrupt implements [hal.Bridge].
func (b *PipeBridge) Interrupt() <-chan struct{} { return b.recv.irq.ch }

// Close implements [hal.Bridge]. It stops the reader and closes both pipes;
// the pipe files stay in the bus directory.
func (b *PipeBridge) Close() error {
	if b.closed.Add(1) != 1 {
		return pkg.ErrClosed
	}
	b.closeOnce.Do(func() { close(b.closeCh) })
	<-b.done
	err := errors.Join(b.sendFile.Close(), b.recvFile.Close())
	b.bus.release(b.key)
	return err
}

// reader copies words from the incoming pipe into the receive FIFO until
// the bridge closes.
func (b *PipeBridge) reader() {
	defer close(b.done)

	var buf [256]byte
	have := 0
	for {
		select {
		case <-b.closeCh:
			return
		default:
		}

		b.recvFile.SetReadDeadline(time.Now().Add(pipePoll))
		n, err := b.recvFile.Read(buf[have:])
		if err != nil && !os.IsTimeout(err) {
			pkg.LogWarn(pkg.ComponentFIFO, "pipe read failed",
				"node", b.key[0], "peer", b.key[1], "error", err)
			return
		}
		have += n

		off := 0
		for ; have-off >= 4; off += 4 {
			if !b.store(binary.LittleEndian.Uint32(buf[off:])) {
				return
			}
		}
		have = copy(buf[:], buf[off:have])
	}
}

// store pushes one word into the receive FIFO, waiting while it is full.
// It returns false when the bridge closes first.
func (b *PipeBridge) store(word uint32) bool {
	var bo iox.Backoff
	for {
		err := b.recv.push(word)
		if err == nil {
			return true
		}
		if !iox.IsWouldBlock(err) {
			return false
		}
		select {
		case <-b.closeCh:
			return false
		default:
		}
		bo.Wait()
	}
}
