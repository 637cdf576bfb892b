package pkg

import (
	"errors"

	"code.hybscloud.com/iox"
)

// Transport errors.
var (
	// ErrInvalidEndpoint indicates an endpoint handle that does not decode or
	// names an endpoint that is not valid.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrChannelNotOpen indicates the channel is not connected or not open.
	ErrChannelNotOpen = errors.New("channel not connected or not open")

	// ErrChannelConnected indicates the endpoint is already part of a channel.
	ErrChannelConnected = errors.New("channel connected")

	// ErrChannelType indicates an operation that does not match the channel type.
	ErrChannelType = errors.New("channel type mismatch")

	// ErrMemLimit indicates a full receive queue or an exhausted buffer pool.
	ErrMemLimit = errors.New("memory limit reached")

	// ErrRequestLimit indicates that no request slot is free.
	ErrRequestLimit = errors.New("request limit reached")

	// ErrRequestInvalid indicates a request handle that does not name an
	// outstanding request.
	ErrRequestInvalid = errors.New("invalid request")

	// ErrRequestCancelled indicates the request was cancelled.
	ErrRequestCancelled = errors.New("request cancelled")

	// ErrMessageTruncated indicates the receive buffer was smaller than the
	// arrived message. The truncated prefix was delivered.
	ErrMessageTruncated = errors.New("message truncated")

	// ErrMessageSize indicates a payload larger than the configured maximum.
	ErrMessageSize = errors.New("payload exceeds maximum size")

	// ErrScalarSize indicates a scalar receive whose width differs from the
	// width that was sent.
	ErrScalarSize = errors.New("scalar size mismatch")

	// ErrTimeout indicates a wait that timed out.
	ErrTimeout = errors.New("wait timeout")

	// ErrPending indicates a request that has not completed yet.
	ErrPending = errors.New("request pending")

	// ErrGeneral indicates an unclassified failure, usually in a lower layer.
	ErrGeneral = errors.New("general failure")

	// ErrNotInitialized indicates the node has not been initialized or has
	// been finalized.
	ErrNotInitialized = errors.New("node not initialized")

	// ErrAlreadyInitialized indicates a repeated initialization.
	ErrAlreadyInitialized = errors.New("node already initialized")

	// ErrNodeExists indicates the node is already registered in its domain.
	ErrNodeExists = errors.New("node already exists")

	// ErrEndpointExists indicates the port is already bound on this node.
	ErrEndpointExists = errors.New("endpoint already exists")

	// ErrEndpointLimit indicates that no endpoint slot is free.
	ErrEndpointLimit = errors.New("endpoint limit reached")

	// ErrNoRoute indicates the target node is not reachable from this node.
	ErrNoRoute = errors.New("no route to node")

	// ErrFrameTooLarge indicates a frame larger than the link maximum.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrClosed indicates the layer was closed.
	ErrClosed = errors.New("closed")

	// ErrAlreadyRunning indicates the layer is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the layer is not running.
	ErrNotRunning = errors.New("not running")
)

// Status is the completion status of a transport operation.
type Status int

// Status values. The numeric values travel inside routing acknowledgements,
// so they must not be reordered.
const (
	StatusSuccess          Status = iota // Operation completed successfully
	StatusPending                        // Request not yet completed
	StatusTimeout                        // Wait timed out
	StatusInvalidEndpoint                // Endpoint handle invalid
	StatusChannelNotOpen                 // Channel not connected or not open
	StatusMemLimit                       // Queue full or buffers exhausted
	StatusRequestLimit                   // No free request slot
	StatusRequestInvalid                 // Request handle invalid
	StatusRequestCancelled               // Request was cancelled
	StatusMessageTruncated               // Receive buffer too small
	StatusMessageSize                    // Payload too large
	StatusScalarSize                     // Scalar width mismatch
	StatusGeneral                        // Any other failure
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusTimeout:
		return "timeout"
	case StatusInvalidEndpoint:
		return "invalid endpoint"
	case StatusChannelNotOpen:
		return "channel not connected or open"
	case StatusMemLimit:
		return "memory limit"
	case StatusRequestLimit:
		return "request limit"
	case StatusRequestInvalid:
		return "request invalid"
	case StatusRequestCancelled:
		return "request cancelled"
	case StatusMessageTruncated:
		return "message truncated"
	case StatusMessageSize:
		return "message size"
	case StatusScalarSize:
		return "scalar size"
	case StatusGeneral:
		return "general failure"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the status.
func (s Status) Error() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusPending:
		return ErrPending
	case StatusTimeout:
		return ErrTimeout
	case StatusInvalidEndpoint:
		return ErrInvalidEndpoint
	case StatusChannelNotOpen:
		return ErrChannelNotOpen
	case StatusMemLimit:
		return ErrMemLimit
	case StatusRequestLimit:
		return ErrRequestLimit
	case StatusRequestInvalid:
		return ErrRequestInvalid
	case StatusRequestCancelled:
		return ErrRequestCancelled
	case StatusMessageTruncated:
		return ErrMessageTruncated
	case StatusMessageSize:
		return ErrMessageSize
	case StatusScalarSize:
		return ErrScalarSize
	default:
		return ErrGeneral
	}
}

// StatusOf maps an error back to its status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrPending):
		return StatusPending
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrInvalidEndpoint):
		return StatusInvalidEndpoint
	case errors.Is(err, ErrChannelNotOpen):
		return StatusChannelNotOpen
	case errors.Is(err, ErrMemLimit), iox.IsWouldBlock(err):
		return StatusMemLimit
	case errors.Is(err, ErrRequestLimit):
		return StatusRequestLimit
	case errors.Is(err, ErrRequestInvalid):
		return StatusRequestInvalid
	case errors.Is(err, ErrRequestCancelled):
		return StatusRequestCancelled
	case errors.Is(err, ErrMessageTruncated):
		return StatusMessageTruncated
	case errors.Is(err, ErrMessageSize):
		return StatusMessageSize
	case errors.Is(err, ErrScalarSize):
		return StatusScalarSize
	default:
		return StatusGeneral
	}
}

// IsRetryable reports whether err is a resource condition that clears on
// its own: a full queue, exhausted buffers or request slots, or a lower
// layer asking to try again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrMemLimit) ||
		errors.Is(err, ErrRequestLimit) ||
		iox.IsWouldBlock(err)
}
