package bench

import "github.com/irctrakz/netbench/pkg/core"

// DefaultTransferUnit is the default transfer size of the facility.
const DefaultTransferUnit = 4096

// Options configures a benchmark server.
type Options struct {
	// TransferUnit sizes the receive buffer (UDP) and the pattern buffer (TCP).
	TransferUnit int

	// Yield is called whenever the facility reports "try again".
	// Defaults to core.DefaultYield.
	Yield core.YieldFunc
}

func (o Options) withDefaults() Options {
	if o.TransferUnit <= 0 {
		o.TransferUnit = DefaultTransferUnit
	}
	if o.Yield == nil {
		o.Yield = core.DefaultYield
	}
	return o
}
