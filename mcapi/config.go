package mcapi

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Handle fields are eight bits wide, which bounds the table capacities.
const (
	MaxHandleField = 1 << 8
	// MaxRequestIndex bounds the request table: request handles carry the
	// index in the low 31 bits.
	MaxRequestIndex = 1<<31 - 1
)

// Config holds the fixed capacities of a node's database. Tables are
// allocated once at [Initialize] and never grow.
type Config struct {
	MaxDomains       int `validate:"min=1,max=256"`
	MaxNodes         int `validate:"min=1,max=256"`
	MaxEndpoints     int `validate:"min=1,max=256"`
	MaxQueueElements int `validate:"min=1,max=65535"`
	MaxBuffers       int `validate:"min=1"`
	MaxRequests      int `validate:"min=1,max=2147483647"`
	MaxMsgSize       int `validate:"min=1"`
	MaxPktSize       int `validate:"min=1"`

	// PollInterval bounds how long a wait sleeps between polls of requests
	// whose completion depends on a remote node.
	PollInterval time.Duration `validate:"gt=0"`
}

// DefaultConfig returns the capacities used by the flight-controller board.
func DefaultConfig() Config {
	return Config{
		MaxDomains:       2,
		MaxNodes:         8,
		MaxEndpoints:     32,
		MaxQueueElements: 64,
		MaxBuffers:       128,
		MaxRequests:      64,
		MaxMsgSize:       1024,
		MaxPktSize:       1024,
		PollInterval:     time.Millisecond,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first capacity that is out of range.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("mcapi config: %w", err)
	}
	return nil
}

// bufferSize is the payload capacity of one pool buffer.
func (c *Config) bufferSize() int {
	return max(c.MaxMsgSize, c.MaxPktSize)
}
