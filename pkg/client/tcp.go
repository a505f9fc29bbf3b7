package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/irctrakz/netbench/pkg/bench"
	"github.com/irctrakz/netbench/pkg/logging"
	"github.com/sirupsen/logrus"
)

// ErrPatternMismatch is returned when Verify is set and a received byte
// is not its stream offset mod 256.
var ErrPatternMismatch = errors.New("pattern mismatch")

// TCPConfig configures a TCP throughput run.
type TCPConfig struct {
	// Address is the sender's host:port.
	Address string

	// Duration is the read window of every sample.
	Duration time.Duration

	// Samples is the number of connections.
	Samples int

	// BlockSize is the read buffer size.
	BlockSize int

	// Verify checks the received pattern.
	Verify bool

	// DialTimeout bounds connection setup.
	DialTimeout time.Duration
}

// DefaultTCPConfig returns the client defaults.
func DefaultTCPConfig() TCPConfig {
	return TCPConfig{
		Duration:    10 * time.Second,
		Samples:     5,
		BlockSize:   131072,
		DialTimeout: 10 * time.Second,
	}
}

// TCPSample is the outcome of one connection.
type TCPSample struct {
	Index int
	Bytes uint64

	// Overall spans connect to close, Pure only the read window.
	Overall time.Duration
	Pure    time.Duration
}

// TCPResult collects all samples of a run.
type TCPResult struct {
	Samples []TCPSample
}

// Totals returns the summed bytes and durations of all samples.
func (r TCPResult) Totals() (bytes uint64, overall, pure time.Duration) {
	for _, s := range r.Samples {
		bytes += s.Bytes
		overall += s.Overall
		pure += s.Pure
	}
	return bytes, overall, pure
}

// Report table lines.
const (
	TableHeader = "Sample | Overall Throughput | Pure Throughput"
	TableRule   = "-------|--------------------|----------------"
)

// TableRow renders one sample line of the report table.
func (s TCPSample) TableRow() string {
	return fmt.Sprintf("%6d | %18s | %15s", s.Index,
		FormatThroughput(s.Overall, s.Bytes), FormatThroughput(s.Pure, s.Bytes))
}

// MeanRow renders the mean throughput over all samples.
func (r TCPResult) MeanRow() string {
	bytes, overall, pure := r.Totals()
	return fmt.Sprintf("  Mean | %18s | %15s", FormatThroughput(overall, bytes), FormatThroughput(pure, bytes))
}

// String renders the full report table including the mean row.
func (r TCPResult) String() string {
	var sb strings.Builder
	sb.WriteString(TableHeader + "\n" + TableRule + "\n")
	for _, s := range r.Samples {
		sb.WriteString(s.TableRow() + "\n")
	}
	sb.WriteString(TableRule + "\n")
	sb.WriteString(r.MeanRow())
	return sb.String()
}

// TCPClient drives a series of connections against a TCP sender.
type TCPClient struct {
	config TCPConfig
	log    *logrus.Entry
}

// NewTCPClient validates config and creates a client.
func NewTCPClient(config TCPConfig) (*TCPClient, error) {
	if config.Address == "" {
		return nil, errors.New("address is required")
	}
	if config.Samples < 1 {
		return nil, fmt.Errorf("invalid sample count: %d", config.Samples)
	}
	if config.BlockSize < 1 {
		return nil, fmt.Errorf("invalid block size: %d", config.BlockSize)
	}
	if config.Duration <= 0 {
		return nil, fmt.Errorf("invalid duration: %s", config.Duration)
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultTCPConfig().DialTimeout
	}
	return &TCPClient{config: config, log: logging.WithComponent("tcp-client")}, nil
}

// Run takes all samples. onSample, if not nil, is called after each one.
func (c *TCPClient) Run(ctx context.Context, onSample func(TCPSample)) (TCPResult, error) {
	var res TCPResult
	for i := 0; i < c.config.Samples; i++ {
		s, err := c.Sample(ctx, i)
		if err != nil {
			return res, fmt.Errorf("sample %d: %w", i, err)
		}
		res.Samples = append(res.Samples, s)
		if onSample != nil {
			onSample(s)
		}
	}
	return res, nil
}

// Sample connects once, reads for the configured duration and closes.
func (c *TCPClient) Sample(ctx context.Context, index int) (TCPSample, error) {
	s := TCPSample{Index: index}
	buf := make([]byte, c.config.BlockSize)
	var verifier bench.PatternVerifier

	connectAt := time.Now()
	d := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp4", c.config.Address)
	if err != nil {
		return s, fmt.Errorf("dial %s: %w", c.config.Address, err)
	}

	readAt := time.Now()
	deadline := readAt.Add(c.config.Duration)
	if err := conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		return s, err
	}

	// Closing the connection unblocks the read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var readErr error
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.Bytes += uint64(n)
			if c.config.Verify {
				if at, ok := verifier.Check(buf[:n]); !ok {
					readErr = fmt.Errorf("byte %d: %w", at, ErrPatternMismatch)
					break
				}
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			break
		}
		if errors.Is(err, io.EOF) {
			c.log.WithField("sample", index).Warnf("Sender closed the connection early")
			break
		}
		readErr = err
		break
	}
	s.Pure = time.Since(readAt)

	conn.Close()
	s.Overall = time.Since(connectAt)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return s, ctxErr
	}
	if readErr != nil {
		return s, readErr
	}
	c.log.WithFields(logrus.Fields{"sample": index, "bytes": s.Bytes}).Debugf("Sample finished")
	return s, nil
}
