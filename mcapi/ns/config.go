package ns

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the routing layer limits.
type Config struct {
	// MaxCalls bounds the remote calls outstanding at once. Further calls
	// fail with iox.ErrWouldBlock until one finishes.
	MaxCalls int `validate:"min=1,max=65536"`

	// CallTimeout bounds how long a call waits for its acknowledgement.
	CallTimeout time.Duration `validate:"gt=0"`

	// Backlog is the number of incoming requests queued for the responder.
	// A full backlog stalls the receive task of the link, so it should hold
	// MaxCalls for every peer.
	Backlog int `validate:"min=1"`
}

// DefaultConfig returns the routing limits of the flight-controller board.
func DefaultConfig() Config {
	return Config{
		MaxCalls:    16,
		CallTimeout: time.Second,
		Backlog:     64,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first limit that is out of range.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("ns config: %w", err)
	}
	return nil
}
