package collective

import (
	"time"

	"github.com/born-ml/embedshard/internal/tensor"
)

// Config configures a process group.
type Config struct {
	// Timeout bounds how long a rank waits for its peers in one collective.
	// Zero means wait until the caller's context is done.
	Timeout time.Duration

	// Device that buffers produced by collectives are allocated on.
	Device tensor.Device
}

// DefaultConfig returns a Config with a five minute collective timeout on CPU.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Minute,
		Device:  tensor.CPU,
	}
}
