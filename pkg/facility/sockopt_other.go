//go:build !unix

package facility

import (
	"syscall"

	"github.com/irctrakz/netbench/pkg/core"
)

func socketControl(config core.StackConfig) func(network, address string, c syscall.RawConn) error {
	return nil
}
