package fifo

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config holds the physical layer limits.
type Config struct {
	// Depth is the capacity in words of each simulated hardware FIFO.
	Depth int `validate:"min=2,max=65536"`

	// SendLevelLimit is the send FIFO fill level above which a sender
	// waits before writing the next word.
	SendLevelLimit int `validate:"min=1,ltfield=Depth"`

	// MaxFrameSize is the largest frame in bytes, length word excluded.
	// Longer frames are refused on send and dropped on receive.
	MaxFrameSize int `validate:"min=4"`
}

// DefaultConfig returns the limits of the CPU FIFO bridge: 64-word FIFOs,
// senders wait above 31 words and frames carry up to 1 KiB of payload plus
// a four-word routing header.
func DefaultConfig() Config {
	return Config{
		Depth:          64,
		SendLevelLimit: 31,
		MaxFrameSize:   1024 + 16,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first limit that is out of range.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("fifo config: %w", err)
	}
	return nil
}
