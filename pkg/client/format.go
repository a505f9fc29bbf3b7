// Package client implements the measuring side of the benchmarks: a UDP
// client that streams datagrams to the counting responder, and a TCP
// client that reads the pattern stream of the sender.
package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ParseRate parses a send rate into bytes per second. It accepts a byte
// size ("1MiB", "500 kB", "1048576") or a bit rate with a "bit" suffix
// ("100Mbit"); a trailing "/s" is optional.
func ParseRate(s string) (uint64, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimSuffix(v, "/s")
	if bits, ok := strings.CutSuffix(v, "bit"); ok {
		n, err := humanize.ParseBytes(bits)
		if err != nil {
			return 0, fmt.Errorf("invalid rate %q: %w", s, err)
		}
		return n / 8, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return n, nil
}

// FormatThroughput renders bytes moved in elapsed as SI bits per second,
// e.g. "94 Mbit/s".
func FormatThroughput(elapsed time.Duration, bytes uint64) string {
	if elapsed <= 0 {
		return "0 bit/s"
	}
	bps := uint64(float64(bytes*8) / elapsed.Seconds())
	return strings.TrimSuffix(humanize.Bytes(bps), "B") + "bit/s"
}
