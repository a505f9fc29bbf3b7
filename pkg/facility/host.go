package facility

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/eapache/queue"
	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// HostFacility implements core.Facility on the operating system's sockets.
// Blocking calls are bounded by the configured poll interval and report
// core.ErrTryAgain when it expires.
type HostFacility struct {
	// Configuration
	config core.StackConfig

	status int32

	// Socket table
	mu      sync.Mutex
	sockets map[core.Handle]*hostSocket
	next    core.Handle

	// Pending socket events, guarded by evMu and signalled through evCond.
	evMu    sync.Mutex
	evCond  *sync.Cond
	events  *queue.Queue
	stopped bool

	wg      sync.WaitGroup
	metrics core.FacilityMetrics
	log     *logrus.Entry
}

type hostSocket struct {
	handle core.Handle
	family core.AddressFamily
	typ    core.SocketType

	bound *core.Addr

	udp      *net.UDPConn
	listener *net.TCPListener
	backlog  chan *net.TCPConn
	closed   chan struct{}

	conn *net.TCPConn
	peer core.Addr
}

// Ensure HostFacility implements core.Facility
var _ core.Facility = (*HostFacility)(nil)

// NewHostFacility creates a host facility. It reports StatusOther until
// Start succeeds.
func NewHostFacility(config core.StackConfig) *HostFacility {
	f := &HostFacility{
		config:  config,
		sockets: make(map[core.Handle]*hostSocket),
		next:    1,
		events:  queue.New(),
		log:     logging.WithComponent("facility"),
	}
	f.evCond = sync.NewCond(&f.evMu)
	return f
}

// Start validates the configuration and marks the facility running.
func (f *HostFacility) Start() error {
	if err := f.checkConfig(); err != nil {
		atomic.StoreInt32(&f.status, int32(core.StatusFatalError))
		return err
	}

	f.evMu.Lock()
	f.stopped = false
	f.evMu.Unlock()

	atomic.StoreInt32(&f.status, int32(core.StatusRunning))
	f.log.WithFields(logrus.Fields{
		"address":     f.config.Address,
		"gateway":     f.config.Gateway,
		"subnet_mask": f.config.SubnetMask,
		"max_sockets": f.config.MaxSockets,
	}).Infof("Host socket facility running")
	return nil
}

func (f *HostFacility) checkConfig() error {
	if f.config.MaxSockets < 1 {
		return fmt.Errorf("max sockets must be positive, got %d", f.config.MaxSockets)
	}
	if f.config.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", f.config.PollInterval)
	}
	return nil
}

// Stop closes every socket and wakes up waiters with core.ErrConnShutdown.
func (f *HostFacility) Stop() error {
	atomic.StoreInt32(&f.status, int32(core.StatusOther))

	f.evMu.Lock()
	f.stopped = true
	f.evCond.Broadcast()
	f.evMu.Unlock()

	f.mu.Lock()
	handles := make([]core.Handle, 0, len(f.sockets))
	for h := range f.sockets {
		handles = append(handles, h)
	}
	f.mu.Unlock()
	for _, h := range handles {
		f.Close(h)
	}

	f.wg.Wait()
	f.log.Infof("Host socket facility stopped")
	return nil
}

// Status implements core.Facility
func (f *HostFacility) Status() core.Status {
	return core.Status(atomic.LoadInt32(&f.status))
}

// Metrics returns a snapshot of the facility counters.
func (f *HostFacility) Metrics() core.FacilityMetrics {
	return core.FacilityMetrics{
		SocketsOpen:     atomic.LoadUint64(&f.metrics.SocketsOpen),
		SocketsCreated:  atomic.LoadUint64(&f.metrics.SocketsCreated),
		SocketsRejected: atomic.LoadUint64(&f.metrics.SocketsRejected),
		EventsQueued:    atomic.LoadUint64(&f.metrics.EventsQueued),
		Errors:          atomic.LoadUint64(&f.metrics.Errors),
	}
}

func (f *HostFacility) running() error {
	if f.Status() != core.StatusRunning {
		return fmt.Errorf("facility not running: %w", core.ErrConnShutdown)
	}
	return nil
}

// register adds s to the socket table, enforcing MaxSockets.
func (f *HostFacility) register(s *hostSocket) (core.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sockets) >= f.config.MaxSockets {
		atomic.AddUint64(&f.metrics.SocketsRejected, 1)
		return core.InvalidHandle, fmt.Errorf("%d sockets open: %w", len(f.sockets), core.ErrNoSpace)
	}
	h := f.next
	f.next++
	s.handle = h
	f.sockets[h] = s
	atomic.AddUint64(&f.metrics.SocketsCreated, 1)
	atomic.AddUint64(&f.metrics.SocketsOpen, 1)
	return h, nil
}

func (f *HostFacility) socket(h core.Handle) (*hostSocket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sockets[h]
	if !ok {
		return nil, fmt.Errorf("handle %d: %w", h, core.ErrInvalidHandle)
	}
	return s, nil
}

// Create implements core.Facility
func (f *HostFacility) Create(family core.AddressFamily, typ core.SocketType) (core.Handle, error) {
	if err := f.running(); err != nil {
		return core.InvalidHandle, err
	}
	if family != core.AFInet && family != core.AFInet6 {
		return core.InvalidHandle, fmt.Errorf("address family %d: %w", family, core.ErrNotSupported)
	}
	if typ != core.SockDgram && typ != core.SockStream {
		return core.InvalidHandle, fmt.Errorf("socket type %d: %w", typ, core.ErrNotSupported)
	}
	return f.register(&hostSocket{family: family, typ: typ, closed: make(chan struct{})})
}

func network(family core.AddressFamily, typ core.SocketType) string {
	n := "udp"
	if typ == core.SockStream {
		n = "tcp"
	}
	if family == core.AFInet6 {
		return n + "6"
	}
	return n + "4"
}

func (f *HostFacility) listenConfig() net.ListenConfig {
	return net.ListenConfig{Control: socketControl(f.config)}
}

// Bind implements core.Facility. Datagram sockets start receiving right
// away; stream sockets only record the address until Listen.
func (f *HostFacility) Bind(h core.Handle, addr core.Addr) error {
	s, err := f.socket(h)
	if err != nil {
		return err
	}
	if s.bound != nil {
		return fmt.Errorf("handle %d already bound: %w", h, core.ErrInvalidState)
	}

	if s.typ == core.SockDgram {
		lc := f.listenConfig()
		pc, err := lc.ListenPacket(context.Background(), network(s.family, s.typ), addr.String())
		if err != nil {
			atomic.AddUint64(&f.metrics.Errors, 1)
			return fmt.Errorf("bind %s: %w", addr, err)
		}
		udp := pc.(*net.UDPConn)
		if err := f.applyPacketOptions(s.family, udp); err != nil {
			udp.Close()
			return err
		}
		s.udp = udp
	}

	s.bound = &addr
	return nil
}

func (f *HostFacility) applyPacketOptions(family core.AddressFamily, c *net.UDPConn) error {
	if family != core.AFInet {
		return nil
	}
	p := ipv4.NewPacketConn(c)
	if f.config.TOS > 0 {
		if err := p.SetTOS(f.config.TOS); err != nil {
			return fmt.Errorf("set TOS: %w", err)
		}
	}
	if f.config.TTL > 0 {
		if err := p.SetTTL(f.config.TTL); err != nil {
			return fmt.Errorf("set TTL: %w", err)
		}
	}
	return nil
}

func (f *HostFacility) applyStreamOptions(family core.AddressFamily, c *net.TCPConn) error {
	if err := c.SetNoDelay(true); err != nil {
		return err
	}
	if family != core.AFInet {
		return nil
	}
	p := ipv4.NewConn(c)
	if f.config.TOS > 0 {
		if err := p.SetTOS(f.config.TOS); err != nil {
			return fmt.Errorf("set TOS: %w", err)
		}
	}
	if f.config.TTL > 0 {
		if err := p.SetTTL(f.config.TTL); err != nil {
			return fmt.Errorf("set TTL: %w", err)
		}
	}
	return nil
}

// Listen implements core.Facility
func (f *HostFacility) Listen(h core.Handle, backlog int) error {
	s, err := f.socket(h)
	if err != nil {
		return err
	}
	if s.typ != core.SockStream || s.bound == nil || s.listener != nil {
		return fmt.Errorf("listen handle %d: %w", h, core.ErrInvalidState)
	}
	if backlog < 1 {
		backlog = 1
	}

	lc := f.listenConfig()
	l, err := lc.Listen(context.Background(), network(s.family, s.typ), s.bound.String())
	if err != nil {
		atomic.AddUint64(&f.metrics.Errors, 1)
		return fmt.Errorf("listen %s: %w", s.bound, err)
	}
	s.listener = l.(*net.TCPListener)
	s.backlog = make(chan *net.TCPConn, backlog)

	f.wg.Add(1)
	go f.acceptLoop(s)
	return nil
}

// acceptLoop moves incoming connections into the socket's backlog and
// raises an accept event for each.
func (f *HostFacility) acceptLoop(s *hostSocket) {
	defer f.wg.Done()
	defer drainBacklog(s)
	for {
		c, err := s.listener.AcceptTCP()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			atomic.AddUint64(&f.metrics.Errors, 1)
			f.pushEvent(core.Event{Handle: s.handle, Mask: core.EventError, Err: fmt.Errorf("accept: %w", err)})
			return
		}

		select {
		case s.backlog <- c:
			f.pushEvent(core.Event{Handle: s.handle, Mask: core.EventConnAccepted})
		case <-s.closed:
			c.Close()
			return
		}
	}
}

func (f *HostFacility) pushEvent(ev core.Event) {
	f.evMu.Lock()
	f.events.Add(ev)
	atomic.AddUint64(&f.metrics.EventsQueued, 1)
	f.evCond.Broadcast()
	f.evMu.Unlock()
}

// Wait implements core.Facility
func (f *HostFacility) Wait() error {
	f.evMu.Lock()
	defer f.evMu.Unlock()
	for f.events.Length() == 0 && !f.stopped {
		f.evCond.Wait()
	}
	if f.stopped {
		return fmt.Errorf("wait: %w", core.ErrConnShutdown)
	}
	return nil
}

// PendingEvents implements core.Facility. Events of one socket are merged
// into a single entry; sockets beyond max stay queued.
func (f *HostFacility) PendingEvents(max int) ([]core.Event, error) {
	if max < 1 {
		return nil, fmt.Errorf("pending events: buffer too small: %w", core.ErrInvalidState)
	}
	f.evMu.Lock()
	defer f.evMu.Unlock()

	var out []core.Event
	index := make(map[core.Handle]int)
	rest := queue.New()
	for f.events.Length() > 0 {
		ev := f.events.Remove().(core.Event)
		if i, ok := index[ev.Handle]; ok {
			out[i].Mask |= ev.Mask
			if ev.Err != nil {
				out[i].Err = ev.Err
			}
			continue
		}
		if len(out) >= max {
			rest.Add(ev)
			continue
		}
		index[ev.Handle] = len(out)
		out = append(out, ev)
	}
	f.events = rest
	return out, nil
}

// Accept implements core.Facility
func (f *HostFacility) Accept(h core.Handle) (core.Handle, core.Addr, error) {
	s, err := f.socket(h)
	if err != nil {
		return core.InvalidHandle, core.Addr{}, err
	}
	if s.listener == nil {
		return core.InvalidHandle, core.Addr{}, fmt.Errorf("accept handle %d: %w", h, core.ErrInvalidState)
	}

	var c *net.TCPConn
	select {
	case c = <-s.backlog:
	default:
		return core.InvalidHandle, core.Addr{}, core.ErrTryAgain
	}

	if err := f.applyStreamOptions(s.family, c); err != nil {
		c.Close()
		return core.InvalidHandle, core.Addr{}, fmt.Errorf("accept: %w", err)
	}
	peer := addrFromNet(c.RemoteAddr())
	ch, err := f.register(&hostSocket{
		family: s.family,
		typ:    core.SockStream,
		closed: make(chan struct{}),
		conn:   c,
		peer:   peer,
	})
	if err != nil {
		c.Close()
		return core.InvalidHandle, core.Addr{}, fmt.Errorf("accept: %w", err)
	}
	return ch, peer, nil
}

// RecvFrom implements core.Facility
func (f *HostFacility) RecvFrom(h core.Handle, buf []byte) (int, core.Addr, error) {
	s, err := f.socket(h)
	if err != nil {
		return 0, core.Addr{}, err
	}
	if s.udp == nil {
		return 0, core.Addr{}, fmt.Errorf("recvfrom handle %d: %w", h, core.ErrInvalidState)
	}
	if err := s.udp.SetReadDeadline(time.Now().Add(f.config.PollInterval)); err != nil {
		return 0, core.Addr{}, mapError(err)
	}
	n, from, err := s.udp.ReadFromUDP(buf)
	if err != nil {
		return 0, core.Addr{}, mapError(err)
	}
	return n, core.Addr{IP: from.IP.String(), Port: uint16(from.Port)}, nil
}

// SendTo implements core.Facility
func (f *HostFacility) SendTo(h core.Handle, buf []byte, dst core.Addr) (int, error) {
	s, err := f.socket(h)
	if err != nil {
		return 0, err
	}
	if s.udp == nil {
		return 0, fmt.Errorf("sendto handle %d: %w", h, core.ErrInvalidState)
	}
	ip := net.ParseIP(dst.IP)
	if ip == nil {
		return 0, fmt.Errorf("sendto: invalid address %q: %w", dst.IP, core.ErrInvalidState)
	}
	if err := s.udp.SetWriteDeadline(time.Now().Add(f.config.PollInterval)); err != nil {
		return 0, mapError(err)
	}
	n, err := s.udp.WriteToUDP(buf, &net.UDPAddr{IP: ip, Port: int(dst.Port)})
	if err != nil {
		return n, mapError(err)
	}
	return n, nil
}

// Write implements core.Facility. A deadline expiry after a partial write
// reports the bytes written and no error.
func (f *HostFacility) Write(h core.Handle, buf []byte) (int, error) {
	s, err := f.socket(h)
	if err != nil {
		return 0, err
	}
	if s.conn == nil {
		return 0, fmt.Errorf("write handle %d: %w", h, core.ErrInvalidState)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(f.config.PollInterval)); err != nil {
		return 0, mapError(err)
	}
	n, err := s.conn.Write(buf)
	if err != nil {
		if n > 0 && isTimeout(err) {
			return n, nil
		}
		return n, mapError(err)
	}
	return n, nil
}

// Close implements core.Facility
func (f *HostFacility) Close(h core.Handle) {
	f.mu.Lock()
	s, ok := f.sockets[h]
	if ok {
		delete(f.sockets, h)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	atomic.AddUint64(&f.metrics.SocketsOpen, ^uint64(0))

	close(s.closed)
	if s.udp != nil {
		s.udp.Close()
	}
	if s.listener != nil {
		s.listener.Close()
		drainBacklog(s)
	}
	if s.conn != nil {
		s.conn.Close()
	}
	f.log.WithField("handle", h).Debugf("Socket closed")
}

// LocalAddr returns the address a bound socket actually uses, which
// differs from the requested one when port 0 was bound.
func (f *HostFacility) LocalAddr(h core.Handle) (core.Addr, error) {
	s, err := f.socket(h)
	if err != nil {
		return core.Addr{}, err
	}
	switch {
	case s.udp != nil:
		return addrFromNet(s.udp.LocalAddr()), nil
	case s.listener != nil:
		return addrFromNet(s.listener.Addr()), nil
	case s.conn != nil:
		return addrFromNet(s.conn.LocalAddr()), nil
	case s.bound != nil:
		return *s.bound, nil
	}
	return core.Addr{}, fmt.Errorf("handle %d not bound: %w", h, core.ErrInvalidState)
}

// drainBacklog closes connections that were never accepted. It is a no-op
// while the socket is open.
func drainBacklog(s *hostSocket) {
	select {
	case <-s.closed:
	default:
		return
	}
	for {
		select {
		case c := <-s.backlog:
			c.Close()
		default:
			return
		}
	}
}

func addrFromNet(a net.Addr) core.Addr {
	host, port, err := net.SplitHostPort(a.String())
	if err != nil {
		return core.Addr{}
	}
	p, _ := strconv.Atoi(port)
	return core.Addr{IP: host, Port: uint16(p)}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// mapError translates socket errors into the facility error values.
func mapError(err error) error {
	switch {
	case isTimeout(err):
		return core.ErrTryAgain
	case errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%v: %w", err, core.ErrConnShutdown)
	case errors.Is(err, io.EOF),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED):
		return fmt.Errorf("%v: %w", err, core.ErrConnectionClosed)
	}
	return err
}
