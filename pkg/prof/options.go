package prof

import "errors"

// Profiling errors.
var (
	// ErrActive indicates a session is already recording.
	ErrActive = errors.New("profile session already active")

	// ErrNoDir indicates the session has no output directory.
	ErrNoDir = errors.New("profile directory not set")
)

// Options selects the profiles a session records.
type Options struct {
	// Dir receives the profile files. It is created if missing.
	Dir string

	CPU   bool
	Mutex bool
	Block bool
	Heap  bool
}

// All returns options that record every profile into dir.
func All(dir string) Options {
	return Options{Dir: dir, CPU: true, Mutex: true, Block: true, Heap: true}
}

// File names written into Options.Dir.
const (
	FileCPU   = "cpu.prof"
	FileMutex = "mutex.prof"
	FileBlock = "block.prof"
	FileHeap  = "heap.prof"
)
