package client

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/irctrakz/netbench/pkg/bench"
	"github.com/irctrakz/netbench/pkg/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// UDPConfig configures a UDP throughput run.
type UDPConfig struct {
	// Address is the responder's host:port.
	Address string

	// Duration is the length of the send phase.
	Duration time.Duration

	// PacketSize is the size of every data datagram, command byte included.
	PacketSize int

	// Rate is the target send rate in bytes per second.
	Rate uint64

	// ReplyTimeout bounds every wait for a counter reply.
	ReplyTimeout time.Duration
}

// DefaultUDPConfig returns the client defaults.
func DefaultUDPConfig() UDPConfig {
	return UDPConfig{
		Duration:     10 * time.Second,
		PacketSize:   1472,
		Rate:         1024 * 1024,
		ReplyTimeout: 10 * time.Second,
	}
}

// UDPResult is the outcome of a UDP run.
type UDPResult struct {
	Sent     uint64
	Received uint64
	Elapsed  time.Duration
}

// LossRatio is the fraction of sent bytes the responder did not count.
// It is negative when the responder counted more than was sent.
func (r UDPResult) LossRatio() float64 {
	if r.Sent == 0 {
		return 0
	}
	return 1 - float64(r.Received)/float64(r.Sent)
}

func (r UDPResult) lossString() string {
	if r.Sent >= r.Received {
		return humanize.IBytes(r.Sent - r.Received)
	}
	return "-" + humanize.IBytes(r.Received-r.Sent)
}

// String renders the two report lines.
func (r UDPResult) String() string {
	return fmt.Sprintf("Sent: %s, Received: %s, Loss: %s (%.1f%%)\nSending Throughput: %s, Receiving Throughput: %s",
		humanize.IBytes(r.Sent), humanize.IBytes(r.Received), r.lossString(), r.LossRatio()*100,
		FormatThroughput(r.Elapsed, r.Sent), FormatThroughput(r.Elapsed, r.Received))
}

// UDPClient drives one run against a UDP responder.
type UDPClient struct {
	config UDPConfig
	log    *logrus.Entry
}

// NewUDPClient validates config and creates a client.
func NewUDPClient(config UDPConfig) (*UDPClient, error) {
	if config.Address == "" {
		return nil, errors.New("address is required")
	}
	if config.PacketSize < 1 {
		return nil, fmt.Errorf("invalid packet size: %d", config.PacketSize)
	}
	if config.Duration <= 0 {
		return nil, fmt.Errorf("invalid duration: %s", config.Duration)
	}
	if config.ReplyTimeout <= 0 {
		config.ReplyTimeout = DefaultUDPConfig().ReplyTimeout
	}
	return &UDPClient{config: config, log: logging.WithComponent("udp-client")}, nil
}

// packetsPerSecond converts the byte rate into a datagram rate of at least one.
func (c *UDPClient) packetsPerSecond() float64 {
	pps := c.config.Rate / uint64(c.config.PacketSize)
	if pps == 0 {
		pps = 1
	}
	return float64(pps)
}

// Run resets the responder's counter, sends for the configured duration
// and queries how much arrived.
func (c *UDPClient) Run(ctx context.Context) (UDPResult, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "udp4", c.config.Address)
	if err != nil {
		return UDPResult{}, fmt.Errorf("dial %s: %w", c.config.Address, err)
	}
	conn := nc.(*net.UDPConn)
	defer conn.Close()

	if err := c.reset(ctx, conn); err != nil {
		return UDPResult{}, err
	}

	buf := make([]byte, c.config.PacketSize)
	if _, err := rand.Read(buf); err != nil {
		return UDPResult{}, fmt.Errorf("fill packet: %w", err)
	}
	buf[0] = bench.CmdData

	c.log.Infof("Starting benchmark")
	res, err := c.send(ctx, conn, buf)
	if err != nil {
		return res, err
	}

	c.log.Infof("Benchmark finished. Waiting for bytes-received response")
	res.Received, err = c.exchange(conn, bench.CmdQuery)
	if err != nil {
		return res, err
	}
	return res, nil
}

// reset repeats reset-and-query until the responder reports zero, so late
// datagrams of an earlier run do not count.
func (c *UDPClient) reset(ctx context.Context, conn *net.UDPConn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.exchange(conn, bench.CmdResetQuery)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		c.log.Debugf("Counter still at %d after reset, retrying", n)
	}
}

func (c *UDPClient) send(ctx context.Context, conn *net.UDPConn, buf []byte) (UDPResult, error) {
	limiter := rate.NewLimiter(rate.Limit(c.packetsPerSecond()), 1)
	sendCtx, cancel := context.WithTimeout(ctx, c.config.Duration)
	defer cancel()

	var res UDPResult
	start := time.Now()
	for {
		if err := limiter.Wait(sendCtx); err != nil {
			// Either the send window is over or the next packet would
			// fall outside it.
			break
		}
		n, err := conn.Write(buf)
		if err != nil {
			res.Elapsed = time.Since(start)
			return res, fmt.Errorf("send: %w", err)
		}
		res.Sent += uint64(n)
	}
	res.Elapsed = time.Since(start)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// exchange sends a one-byte command and reads the 8-byte counter reply.
func (c *UDPClient) exchange(conn *net.UDPConn, cmd byte) (uint64, error) {
	if _, err := conn.Write([]byte{cmd}); err != nil {
		return 0, fmt.Errorf("send command %d: %w", cmd, err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.config.ReplyTimeout)); err != nil {
		return 0, err
	}
	reply := make([]byte, 64)
	n, err := conn.Read(reply)
	if err != nil {
		return 0, fmt.Errorf("read reply to command %d: %w", cmd, err)
	}
	if n != bench.ReplySize {
		return 0, fmt.Errorf("reply to command %d has %d bytes, want %d", cmd, n, bench.ReplySize)
	}
	return binary.LittleEndian.Uint64(reply[:n]), nil
}
