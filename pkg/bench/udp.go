package bench

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/logging"
	"github.com/sirupsen/logrus"
)

// Command bytes of the UDP counter-exchange protocol.
const (
	CmdData       byte = 0
	CmdQuery      byte = 1
	CmdResetQuery byte = 2
)

// ReplySize is the size of a counter reply: a little-endian uint64.
const ReplySize = 8

// UDPResponder receives datagrams, counts received bytes and answers
// query and reset commands with the current count.
type UDPResponder struct {
	fac    core.Facility
	opts   Options
	handle core.Handle
	buf    []byte

	// total is only written by the receive loop; atomics let Total be
	// read from other goroutines.
	total uint64

	metrics core.BenchMetrics
	log     *logrus.Entry
}

// NewUDPResponder creates a responder on fac. Call Open before ReceiveOne.
func NewUDPResponder(fac core.Facility, opts Options) *UDPResponder {
	opts = opts.withDefaults()
	size := opts.TransferUnit
	if size < ReplySize {
		size = ReplySize
	}
	return &UDPResponder{
		fac:    fac,
		opts:   opts,
		handle: core.InvalidHandle,
		buf:    make([]byte, size),
		log:    logging.WithComponent("udp"),
	}
}

// Open creates the datagram socket and binds it to addr.
func (r *UDPResponder) Open(addr core.Addr) error {
	h, err := r.fac.Create(core.AFInet, core.SockDgram)
	if err != nil {
		return fmt.Errorf("create socket: %w", err)
	}
	if err := r.fac.Bind(h, addr); err != nil {
		r.fac.Close(h)
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	r.handle = h
	r.log.WithField("handle", h).Infof("Listening on %s", addr)
	return nil
}

// Close releases the socket.
func (r *UDPResponder) Close() {
	if r.handle != core.InvalidHandle {
		r.fac.Close(r.handle)
		r.handle = core.InvalidHandle
	}
}

// Handle returns the bound socket handle.
func (r *UDPResponder) Handle() core.Handle { return r.handle }

// Total returns the number of bytes received since the last reset.
func (r *UDPResponder) Total() uint64 { return atomic.LoadUint64(&r.total) }

// Metrics returns a snapshot of the responder's counters.
func (r *UDPResponder) Metrics() core.BenchMetrics { return r.metrics.Snapshot() }

// ReceiveOne handles at most one datagram. It returns nil when the loop
// should continue, including after a "try again" from the facility.
func (r *UDPResponder) ReceiveOne() error {
	n, src, err := r.fac.RecvFrom(r.handle, r.buf)
	if err != nil {
		if core.IsTryAgain(err) {
			atomic.AddUint64(&r.metrics.TryAgain, 1)
			r.log.Tracef("recvfrom reported try again")
			r.opts.Yield()
			return nil
		}
		return fmt.Errorf("recvfrom: %w", err)
	}
	if n == 0 {
		atomic.AddUint64(&r.metrics.Ignored, 1)
		return nil
	}

	atomic.AddUint64(&r.metrics.DatagramsReceived, 1)
	atomic.AddUint64(&r.metrics.BytesReceived, uint64(n))

	switch r.buf[0] {
	case CmdData:
		// The whole datagram counts, command byte included.
		atomic.AddUint64(&r.total, uint64(n))
		return nil
	case CmdResetQuery:
		atomic.StoreUint64(&r.total, 0)
		atomic.AddUint64(&r.metrics.Resets, 1)
	case CmdQuery:
	default:
		atomic.AddUint64(&r.metrics.Ignored, 1)
		return nil
	}

	return r.reply(src)
}

func (r *UDPResponder) reply(dst core.Addr) error {
	binary.LittleEndian.PutUint64(r.buf[:ReplySize], atomic.LoadUint64(&r.total))
	for {
		n, err := r.fac.SendTo(r.handle, r.buf[:ReplySize], dst)
		if err != nil {
			if core.IsTryAgain(err) {
				atomic.AddUint64(&r.metrics.TryAgain, 1)
				r.opts.Yield()
				continue
			}
			return fmt.Errorf("sendto %s: %w", dst, err)
		}
		if n != ReplySize {
			return fmt.Errorf("sendto %s: sent %d of %d bytes: %w", dst, n, ReplySize, core.ErrShortWrite)
		}
		atomic.AddUint64(&r.metrics.RepliesSent, 1)
		atomic.AddUint64(&r.metrics.BytesSent, ReplySize)
		return nil
	}
}

// Run receives datagrams until the facility reports an error. A closed
// or shut down socket ends the loop with nil; a cancelled ctx returns
// ctx.Err(); anything else is returned as a fatal error.
func (r *UDPResponder) Run(ctx context.Context) error {
	done := ctx.Done()
	for {
		select {
		case <-done:
			return ctx.Err()
		default:
		}

		err := r.ReceiveOne()
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if core.IsClosed(err) {
			r.log.Infof("Receive loop reported connection closed: %v", err)
			return nil
		}
		atomic.AddUint64(&r.metrics.Errors, 1)
		r.log.Errorf("Receive loop failed: %v", err)
		return err
	}
}

// Serve is the whole responder lifecycle: wait for the stack, open the
// socket on addr, run the receive loop and release the socket.
func (r *UDPResponder) Serve(ctx context.Context, addr core.Addr) error {
	r.log.Infof("Starting UDP throughput responder")
	if err := WaitForStack(ctx, r.fac, r.opts.Yield); err != nil {
		return err
	}
	if err := r.Open(addr); err != nil {
		r.log.Errorf("Open failed: %v", err)
		return err
	}
	defer r.Close()
	return r.Run(ctx)
}
