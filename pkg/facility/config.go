package facility

import (
	"time"

	"github.com/irctrakz/netbench/pkg/core"
)

// socketBufferUnits is the number of transfer units the kernel socket
// buffers are sized for.
const socketBufferUnits = 64

// DefaultConfig returns the default configuration for the host facility
func DefaultConfig() core.StackConfig {
	return core.StackConfig{
		MaxSockets:   2,
		Address:      "10.0.0.10",
		Gateway:      "10.0.0.1",
		SubnetMask:   "255.255.255.0",
		TransferUnit: 4096,
		PollInterval: 100 * time.Millisecond,
		ReuseAddr:    true,
	}
}
