// Package pkg provides shared utilities for the inter-core transport runtime.
//
// This package contains common functionality used by the transport, the
// physical FIFO layer and the routing layer, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors and the [Status] enum reported by requests
//   - Component identifiers for log filtering
//   - Invariant assertions that stop a node with an [*InvariantError]
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a per-component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentNode, "node initialized", "node", 1)
//
// # Errors
//
// Every status a request can complete with has a sentinel error:
//
//	if errors.Is(err, pkg.ErrMemLimit) {
//	    // Receive queue full or buffer pool exhausted, try again later
//	}
//
// [IsRetryable] groups the resource conditions that blocking operations
// retry on, including [code.hybscloud.com/iox.ErrWouldBlock] reported by
// the lower layers.
package pkg
