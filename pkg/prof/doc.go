// Package prof records runtime profiles of a board run.
//
// The package is compiled in only with the "profile" build tag:
//
//	go run -tags profile ./examples/systest -profile /tmp/prof
//
// Without the tag [Start] returns a nil [*Session] whose Stop does nothing,
// so callers keep their profiling hooks in place at no cost.
//
// A [Session] writes one file per selected profile into its directory when
// it stops:
//
//	cpu.prof     CPU samples for the whole session
//	mutex.prof   contention on mutexes, mainly the node database lock
//	block.prof   goroutines blocked in waits and channel operations
//	heap.prof    live allocations at Stop
//
// Only one session may run at a time.
package prof
