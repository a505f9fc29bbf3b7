package bench

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/logging"
	"github.com/sirupsen/logrus"
)

// maxPendingEvents sizes each PendingEvents request. Only one socket is
// watched, so more than one entry in a result is an error.
const maxPendingEvents = 8

// TCPSender accepts one connection at a time on a listening socket and
// streams the ramp pattern to it until the peer goes away.
type TCPSender struct {
	fac    core.Facility
	opts   Options
	listen core.Handle

	// pattern is refilled for every connection and only read in between.
	pattern []byte

	metrics core.BenchMetrics
	log     *logrus.Entry
}

// NewTCPSender creates a sender on fac. Call Open before Run.
func NewTCPSender(fac core.Facility, opts Options) *TCPSender {
	opts = opts.withDefaults()
	// whole ramps only, so wrapping at the buffer end keeps the sequence
	size := (opts.TransferUnit + 255) / 256 * 256
	return &TCPSender{
		fac:     fac,
		opts:    opts,
		listen:  core.InvalidHandle,
		pattern: make([]byte, size),
		log:     logging.WithComponent("tcp"),
	}
}

// Open creates the stream socket, binds it to addr and starts listening.
func (s *TCPSender) Open(addr core.Addr, backlog int) error {
	h, err := s.fac.Create(core.AFInet, core.SockStream)
	if err != nil {
		return fmt.Errorf("create socket: %w", err)
	}
	if err := s.fac.Bind(h, addr); err != nil {
		s.fac.Close(h)
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := s.fac.Listen(h, backlog); err != nil {
		s.fac.Close(h)
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listen = h
	s.log.WithField("handle", h).Infof("Listening on %s (backlog %d)", addr, backlog)
	return nil
}

// Close releases the listening socket.
func (s *TCPSender) Close() {
	if s.listen != core.InvalidHandle {
		s.fac.Close(s.listen)
		s.listen = core.InvalidHandle
	}
}

// Handle returns the listening socket handle.
func (s *TCPSender) Handle() core.Handle { return s.listen }

// Metrics returns a snapshot of the sender's counters.
func (s *TCPSender) Metrics() core.BenchMetrics { return s.metrics.Snapshot() }

// WaitForIncomingConnection blocks on the facility's event mechanism until
// the listening socket reports an acceptable connection.
func (s *TCPSender) WaitForIncomingConnection(ctx context.Context) error {
	done := ctx.Done()
	for {
		select {
		case <-done:
			return ctx.Err()
		default:
		}

		if err := s.fac.Wait(); err != nil {
			return fmt.Errorf("wait: %w", err)
		}

		events, err := s.fac.PendingEvents(maxPendingEvents)
		if err != nil {
			return fmt.Errorf("pending events: %w", err)
		}
		if len(events) == 0 {
			s.log.Tracef("Woke up without pending events")
			continue
		}
		if len(events) != 1 {
			return fmt.Errorf("unexpected number of sockets with events: %d: %w", len(events), core.ErrInvalidState)
		}

		ev := events[0]
		if ev.Handle != s.listen {
			return fmt.Errorf("event for handle %d, expected %d: %w", ev.Handle, s.listen, core.ErrInvalidHandle)
		}

		switch {
		case ev.Mask.Has(core.EventFin):
			s.log.WithField("handle", ev.Handle).Errorf("Listening socket reported fin")
			return fmt.Errorf("handle %d: %w", ev.Handle, core.ErrConnRefused)
		case ev.Mask.Has(core.EventConnAccepted):
			s.log.WithField("handle", ev.Handle).Debugf("Connection ready to accept")
			return nil
		case ev.Mask.Has(core.EventClose):
			// Only meaningful for client sockets.
			s.log.WithField("handle", ev.Handle).Errorf("Listening socket reported close")
			return fmt.Errorf("handle %d: %w", ev.Handle, core.ErrConnectionClosed)
		case ev.Mask.Has(core.EventError):
			err := ev.Err
			if err == nil {
				err = core.ErrInvalidState
			}
			s.log.WithField("handle", ev.Handle).Errorf("Listening socket reported error: %v", err)
			return fmt.Errorf("handle %d: %w", ev.Handle, err)
		}
	}
}

// AcceptConnection waits for a connection and accepts it. A "try again"
// from accept goes back to waiting.
func (s *TCPSender) AcceptConnection(ctx context.Context) (core.Handle, core.Addr, error) {
	for {
		if err := s.WaitForIncomingConnection(ctx); err != nil {
			return core.InvalidHandle, core.Addr{}, err
		}
		h, peer, err := s.fac.Accept(s.listen)
		if err == nil {
			return h, peer, nil
		}
		if !core.IsTryAgain(err) {
			return core.InvalidHandle, core.Addr{}, fmt.Errorf("accept: %w", err)
		}
		atomic.AddUint64(&s.metrics.TryAgain, 1)
	}
}

// SendPattern streams the ramp to h until the connection ends. An orderly
// close or shutdown returns nil; any other error is returned. Partial
// writes resume at the next pattern offset, so byte N of the connection is
// always N mod 256.
func (s *TCPSender) SendPattern(ctx context.Context, h core.Handle) error {
	buf := FillPattern(s.pattern)
	off := 0
	done := ctx.Done()
	for {
		select {
		case <-done:
			return ctx.Err()
		default:
		}

		n, err := s.fac.Write(h, buf[off:])
		switch {
		case err == nil:
			atomic.AddUint64(&s.metrics.BytesSent, uint64(n))
			off = (off + n) % len(buf)
		case core.IsTryAgain(err):
			atomic.AddUint64(&s.metrics.TryAgain, 1)
			s.log.Tracef("write reported try again")
			s.opts.Yield()
		case core.IsClosed(err):
			s.log.WithField("handle", h).Infof("Write reported connection closed")
			return nil
		default:
			return fmt.Errorf("write handle %d: %w", h, err)
		}
	}
}

// Run serves connections one after another. It only returns on a fatal
// error or when ctx is cancelled.
func (s *TCPSender) Run(ctx context.Context) error {
	for {
		s.log.Infof("Accepting new connection")
		h, peer, err := s.AcceptConnection(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			atomic.AddUint64(&s.metrics.Errors, 1)
			s.log.Errorf("Accepting connection failed: %v", err)
			return err
		}
		atomic.AddUint64(&s.metrics.ConnectionsAccepted, 1)
		s.log.WithFields(logrus.Fields{"handle": h, "peer": peer.String()}).Infof("Connection accepted")

		err = s.SendPattern(ctx, h)
		s.fac.Close(h)
		atomic.AddUint64(&s.metrics.ConnectionsClosed, 1)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			atomic.AddUint64(&s.metrics.Errors, 1)
			s.log.Errorf("Sending traffic failed: %v", err)
			return err
		}
	}
}

// Serve is the whole sender lifecycle: wait for the stack, listen on
// addr, serve connections and release the listening socket.
func (s *TCPSender) Serve(ctx context.Context, addr core.Addr, backlog int) error {
	s.log.Infof("Starting TCP throughput sender")
	if err := WaitForStack(ctx, s.fac, s.opts.Yield); err != nil {
		return err
	}
	if err := s.Open(addr, backlog); err != nil {
		s.log.Errorf("Open failed: %v", err)
		return err
	}
	defer s.Close()
	return s.Run(ctx)
}
