package client

import (
	"context"
	"encoding/binary"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/irctrakz/netbench/pkg/bench"
	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/facility"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"1048576", 1048576},
		{"1MiB", 1048576},
		{"1MiB/s", 1048576},
		{"1 MB", 1000000},
		{"8Mbit", 1000000},
		{"8Mbit/s", 1000000},
		{"800kbit", 100000},
	}
	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "fast", "10 parsecs"} {
		_, err := ParseRate(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatThroughput(t *testing.T) {
	assert.Equal(t, "100 Mbit/s", FormatThroughput(time.Second, 12_500_000))
	assert.Equal(t, "12 kbit/s", FormatThroughput(time.Second, 1500))
	assert.Equal(t, "16 bit/s", FormatThroughput(500*time.Millisecond, 1))
	assert.Equal(t, "0 bit/s", FormatThroughput(time.Second, 0))
	assert.Equal(t, "0 bit/s", FormatThroughput(0, 1000))
}

func TestUDPResultReport(t *testing.T) {
	r := UDPResult{Sent: 2048, Received: 1024, Elapsed: time.Second}
	assert.InDelta(t, 0.5, r.LossRatio(), 1e-9)
	lines := strings.Split(r.String(), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Sent: 2.0 KiB, Received: 1.0 KiB, Loss: 1.0 KiB (50.0%)", lines[0])
	assert.Equal(t, "Sending Throughput: 16 kbit/s, Receiving Throughput: 8.2 kbit/s", lines[1])

	r = UDPResult{Sent: 1024, Received: 2048, Elapsed: time.Second}
	assert.Contains(t, r.String(), "Loss: -1.0 KiB (-100.0%)")

	assert.Zero(t, UDPResult{}.LossRatio())
}

func TestTCPResultReport(t *testing.T) {
	r := TCPResult{Samples: []TCPSample{
		{Index: 0, Bytes: 12_500_000, Overall: 2 * time.Second, Pure: time.Second},
		{Index: 1, Bytes: 12_500_000, Overall: 2 * time.Second, Pure: time.Second},
	}}
	bytes, overall, pure := r.Totals()
	assert.Equal(t, uint64(25_000_000), bytes)
	assert.Equal(t, 4*time.Second, overall)
	assert.Equal(t, 2*time.Second, pure)

	lines := strings.Split(r.String(), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, TableHeader, lines[0])
	assert.Equal(t, TableRule, lines[1])
	assert.Equal(t, "     0 |          50 Mbit/s |      100 Mbit/s", lines[2])
	assert.Equal(t, TableRule, lines[4])
	assert.Equal(t, "  Mean |          50 Mbit/s |      100 Mbit/s", lines[5])
}

func TestClientConfigValidation(t *testing.T) {
	_, err := NewUDPClient(DefaultUDPConfig())
	assert.Error(t, err, "address missing")

	cfg := DefaultUDPConfig()
	cfg.Address = "127.0.0.1:5560"
	cfg.PacketSize = 0
	_, err = NewUDPClient(cfg)
	assert.Error(t, err)

	tcfg := DefaultTCPConfig()
	tcfg.Address = "127.0.0.1:5561"
	tcfg.Samples = 0
	_, err = NewTCPClient(tcfg)
	assert.Error(t, err)

	tcfg.Samples = 1
	c, err := NewTCPClient(tcfg)
	require.NoError(t, err)
	assert.Equal(t, 131072, c.config.BlockSize)
}

func startHostFacility(t *testing.T) *facility.HostFacility {
	t.Helper()
	cfg := facility.DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	fac := facility.NewHostFacility(cfg)
	require.NoError(t, fac.Start())
	return fac
}

func TestUDPClientAgainstResponder(t *testing.T) {
	fac := startHostFacility(t)
	r := bench.NewUDPResponder(fac, bench.Options{TransferUnit: 2048})
	require.NoError(t, r.Open(core.Addr{IP: "127.0.0.1"}))
	local, err := fac.LocalAddr(r.Handle())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		fac.Stop()
		assert.ErrorIs(t, <-done, context.Canceled)
	}()

	cfg := DefaultUDPConfig()
	cfg.Address = local.String()
	cfg.Duration = 200 * time.Millisecond
	cfg.PacketSize = 1000
	cfg.Rate = 1_000_000
	cfg.ReplyTimeout = 5 * time.Second
	c, err := NewUDPClient(cfg)
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, res.Sent)
	assert.Zero(t, res.Sent%1000, "only whole datagrams are sent")
	assert.LessOrEqual(t, res.Received, res.Sent)
	assert.GreaterOrEqual(t, res.Received, res.Sent/2)
	assert.GreaterOrEqual(t, res.Elapsed, 100*time.Millisecond)
	assert.Equal(t, res.Received, r.Total())
}

// fakeResponder answers every datagram with reply(datagram).
func fakeResponder(t *testing.T, reply func(req []byte) []byte) string {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if out := reply(buf[:n]); out != nil {
				pc.WriteTo(out, from)
			}
		}
	}()
	return pc.LocalAddr().String()
}

func TestUDPClientRepeatsResetUntilZero(t *testing.T) {
	var resets int32
	addr := fakeResponder(t, func(req []byte) []byte {
		out := make([]byte, bench.ReplySize)
		switch req[0] {
		case bench.CmdResetQuery:
			if atomic.AddInt32(&resets, 1) < 3 {
				binary.LittleEndian.PutUint64(out, 999)
			}
			return out
		case bench.CmdQuery:
			binary.LittleEndian.PutUint64(out, 42)
			return out
		}
		return nil
	})

	cfg := DefaultUDPConfig()
	cfg.Address = addr
	cfg.Duration = 50 * time.Millisecond
	cfg.PacketSize = 100
	cfg.ReplyTimeout = 2 * time.Second
	c, err := NewUDPClient(cfg)
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.Received)
	assert.Equal(t, int32(3), atomic.LoadInt32(&resets))
}

func TestUDPClientRejectsShortReply(t *testing.T) {
	addr := fakeResponder(t, func(req []byte) []byte { return []byte{0, 0, 0, 0} })
	cfg := DefaultUDPConfig()
	cfg.Address = addr
	cfg.ReplyTimeout = 2 * time.Second
	c, err := NewUDPClient(cfg)
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	assert.ErrorContains(t, err, "has 4 bytes")
}

func TestTCPClientAgainstSender(t *testing.T) {
	fac := startHostFacility(t)
	s := bench.NewTCPSender(fac, bench.Options{TransferUnit: 4096})
	require.NoError(t, s.Open(core.Addr{IP: "127.0.0.1"}, 1))
	local, err := fac.LocalAddr(s.Handle())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		fac.Stop()
		assert.ErrorIs(t, <-done, context.Canceled)
	}()

	cfg := DefaultTCPConfig()
	cfg.Address = local.String()
	cfg.Samples = 2
	cfg.Duration = 100 * time.Millisecond
	cfg.BlockSize = 8192
	cfg.Verify = true
	c, err := NewTCPClient(cfg)
	require.NoError(t, err)

	var seen []int
	res, err := c.Run(context.Background(), func(s TCPSample) { seen = append(seen, s.Index) })
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, seen)
	require.Len(t, res.Samples, 2)
	for _, sample := range res.Samples {
		assert.NotZero(t, sample.Bytes)
		assert.GreaterOrEqual(t, sample.Pure, 100*time.Millisecond)
		assert.GreaterOrEqual(t, sample.Overall, sample.Pure)
	}
}

// fakeSender writes data to every connection and closes it.
func fakeSender(t *testing.T, data []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Write(data)
			c.Close()
		}
	}()
	return ln.Addr().String()
}

func TestTCPClientDetectsPatternMismatch(t *testing.T) {
	data := append(bench.FillPattern(make([]byte, 100)), bench.FillPattern(make([]byte, 100))...)
	cfg := DefaultTCPConfig()
	cfg.Address = fakeSender(t, data)
	cfg.Samples = 1
	cfg.Duration = time.Second
	cfg.Verify = true
	c, err := NewTCPClient(cfg)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPatternMismatch)
	assert.ErrorContains(t, err, "byte 100")
}

func TestTCPClientEarlyCloseEndsSample(t *testing.T) {
	cfg := DefaultTCPConfig()
	cfg.Address = fakeSender(t, bench.FillPattern(make([]byte, 1000)))
	cfg.Samples = 1
	cfg.Duration = 5 * time.Second
	cfg.Verify = true
	c, err := NewTCPClient(cfg)
	require.NoError(t, err)

	res, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, uint64(1000), res.Samples[0].Bytes)
	assert.Less(t, res.Samples[0].Pure, 5*time.Second)
}
