//go:build profile

package prof

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
)

var (
	// activeMutex protects active.
	activeMutex sync.Mutex

	// active is the recording session.
	active *Session
)

// Session is a running set of profiles.
type Session struct {
	opts      Options
	cpu       *os.File
	mutexRate int
}

// Enabled reports whether profiling is compiled in.
func Enabled() bool { return true }

// Start begins recording the profiles selected by opts. Returns [ErrActive]
// if another session is recording.
func Start(opts Options) (*Session, error) {
	if opts.Dir == "" {
		return nil, ErrNoDir
	}

	activeMutex.Lock()
	defer activeMutex.Unlock()
	if active != nil {
		return nil, ErrActive
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	s := &Session{opts: opts}
	if opts.CPU {
		f, err := os.Create(filepath.Join(opts.Dir, FileCPU))
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, err
		}
		s.cpu = f
	}
	if opts.Mutex {
		s.mutexRate = runtime.SetMutexProfileFraction(1)
	}
	if opts.Block {
		runtime.SetBlockProfileRate(1)
	}
	active = s
	return s, nil
}

// Stop ends the session and writes its profiles. It is safe to call on a
// nil session.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	activeMutex.Lock()
	defer activeMutex.Unlock()
	if active != s {
		return nil
	}
	active = nil

	var errs []error
	if s.cpu != nil {
		pprof.StopCPUProfile()
		errs = append(errs, s.cpu.Close())
	}
	if s.opts.Mutex {
		errs = append(errs, s.write("mutex", FileMutex))
		runtime.SetMutexProfileFraction(s.mutexRate)
	}
	if s.opts.Block {
		errs = append(errs, s.write("block", FileBlock))
		runtime.SetBlockProfileRate(0)
	}
	if s.opts.Heap {
		runtime.GC()
		errs = append(errs, s.write("heap", FileHeap))
	}
	return errors.Join(errs...)
}

// write saves the named snapshot profile in binary protobuf format.
func (s *Session) write(name, file string) error {
	p := pprof.Lookup(name)
	if p == nil {
		return fmt.Errorf("profile %s not found", name)
	}
	f, err := os.Create(filepath.Join(s.opts.Dir, file))
	if err != nil {
		return err
	}
	if err := p.WriteTo(f, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
