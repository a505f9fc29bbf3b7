package facility

import (
	"fmt"
	"sync"

	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/logging"
)

// MockDatagram is a scripted RecvFrom result or a recorded SendTo.
type MockDatagram struct {
	Data []byte
	Addr core.Addr
	Err  error
}

// MockResult is a scripted SendTo or Write result. N < 0 means "the whole
// buffer"; otherwise at most N bytes are taken.
type MockResult struct {
	N   int
	Err error
}

// MockAccept is a scripted Accept result. A zero Handle is allocated.
type MockAccept struct {
	Handle core.Handle
	Peer   core.Addr
	Err    error
}

// MockFacility is a scripted core.Facility for tests. When a script runs
// dry the blocking calls report core.ErrConnShutdown, which ends the
// benchmark loops cleanly.
type MockFacility struct {
	mu sync.Mutex

	statuses    []core.Status
	StatusCalls int

	CreateErr error
	BindErr   error
	ListenErr error

	next    core.Handle
	open    map[core.Handle]core.SocketType
	bound   map[core.Handle]core.Addr
	backlog map[core.Handle]int

	recv     []MockDatagram
	sendRes  []MockResult
	sent     []MockDatagram
	waitErrs []error
	events   [][]core.Event
	accepts  []MockAccept
	writes   map[core.Handle][]MockResult
	written  map[core.Handle][]byte
	closed   []core.Handle
}

// Ensure MockFacility implements core.Facility
var _ core.Facility = (*MockFacility)(nil)

// NewMockFacility creates a mock facility that reports StatusRunning.
func NewMockFacility() *MockFacility {
	return &MockFacility{
		next:    1,
		open:    make(map[core.Handle]core.SocketType),
		bound:   make(map[core.Handle]core.Addr),
		backlog: make(map[core.Handle]int),
		writes:  make(map[core.Handle][]MockResult),
		written: make(map[core.Handle][]byte),
	}
}

// SetStatuses scripts the values returned by successive Status calls.
// The last value repeats.
func (m *MockFacility) SetStatuses(s ...core.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = s
}

// QueueDatagram scripts a RecvFrom result carrying data from addr.
func (m *MockFacility) QueueDatagram(data []byte, from core.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recv = append(m.recv, MockDatagram{Data: append([]byte(nil), data...), Addr: from})
}

// QueueRecvError scripts a failing RecvFrom.
func (m *MockFacility) QueueRecvError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recv = append(m.recv, MockDatagram{Err: err})
}

// QueueSendResult scripts the next SendTo result. Unscripted sends succeed.
func (m *MockFacility) QueueSendResult(r MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendRes = append(m.sendRes, r)
}

// QueueWait scripts the next Wait result.
func (m *MockFacility) QueueWait(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitErrs = append(m.waitErrs, err)
}

// QueueEvents scripts one Wait/PendingEvents round.
func (m *MockFacility) QueueEvents(events ...core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waitErrs = append(m.waitErrs, nil)
	m.events = append(m.events, events)
}

// QueueAccept scripts the next Accept result.
func (m *MockFacility) QueueAccept(a MockAccept) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepts = append(m.accepts, a)
}

// QueueWrites scripts the Write results of handle h. Once they are used
// up, writes to h report core.ErrConnectionClosed.
func (m *MockFacility) QueueWrites(h core.Handle, results ...MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[h] = append(m.writes[h], results...)
}

// Sent returns the recorded SendTo datagrams.
func (m *MockFacility) Sent() []MockDatagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockDatagram, len(m.sent))
	copy(out, m.sent)
	return out
}

// Written returns the bytes written to h.
func (m *MockFacility) Written(h core.Handle) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written[h]...)
}

// Closed returns the handles passed to Close, in order.
func (m *MockFacility) Closed() []core.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Handle(nil), m.closed...)
}

// OpenHandles returns the number of sockets not yet closed.
func (m *MockFacility) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// Bound returns the address h was bound to.
func (m *MockFacility) Bound(h core.Handle) (core.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.bound[h]
	return a, ok
}

// Backlog returns the backlog h listens with.
func (m *MockFacility) Backlog(h core.Handle) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backlog[h]
}

// Status implements core.Facility
func (m *MockFacility) Status() core.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls++
	if len(m.statuses) == 0 {
		return core.StatusRunning
	}
	s := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return s
}

// Create implements core.Facility
func (m *MockFacility) Create(family core.AddressFamily, typ core.SocketType) (core.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return core.InvalidHandle, m.CreateErr
	}
	h := m.allocLocked()
	m.open[h] = typ
	logging.Debugf("Mock facility created handle %d", h)
	return h, nil
}

func (m *MockFacility) allocLocked() core.Handle {
	for {
		h := m.next
		m.next++
		if _, used := m.open[h]; !used {
			return h
		}
	}
}

// Bind implements core.Facility
func (m *MockFacility) Bind(h core.Handle, addr core.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[h]; !ok {
		return fmt.Errorf("bind handle %d: %w", h, core.ErrInvalidHandle)
	}
	if m.BindErr != nil {
		return m.BindErr
	}
	m.bound[h] = addr
	return nil
}

// Listen implements core.Facility
func (m *MockFacility) Listen(h core.Handle, backlog int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if typ, ok := m.open[h]; !ok || typ != core.SockStream {
		return fmt.Errorf("listen handle %d: %w", h, core.ErrInvalidHandle)
	}
	if m.ListenErr != nil {
		return m.ListenErr
	}
	m.backlog[h] = backlog
	return nil
}

// Wait implements core.Facility
func (m *MockFacility) Wait() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.waitErrs) == 0 {
		return core.ErrConnShutdown
	}
	err := m.waitErrs[0]
	m.waitErrs = m.waitErrs[1:]
	return err
}

// PendingEvents implements core.Facility
func (m *MockFacility) PendingEvents(max int) ([]core.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil, nil
	}
	evs := m.events[0]
	m.events = m.events[1:]
	if len(evs) > max {
		evs = evs[:max]
	}
	return evs, nil
}

// Accept implements core.Facility
func (m *MockFacility) Accept(h core.Handle) (core.Handle, core.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.accepts) == 0 {
		return core.InvalidHandle, core.Addr{}, core.ErrTryAgain
	}
	a := m.accepts[0]
	m.accepts = m.accepts[1:]
	if a.Err != nil {
		return core.InvalidHandle, core.Addr{}, a.Err
	}
	conn := a.Handle
	if conn == 0 {
		conn = m.allocLocked()
	}
	m.open[conn] = core.SockStream
	return conn, a.Peer, nil
}

// RecvFrom implements core.Facility
func (m *MockFacility) RecvFrom(h core.Handle, buf []byte) (int, core.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.recv) == 0 {
		return 0, core.Addr{}, core.ErrConnShutdown
	}
	d := m.recv[0]
	m.recv = m.recv[1:]
	if d.Err != nil {
		return 0, core.Addr{}, d.Err
	}
	n := copy(buf, d.Data)
	return n, d.Addr, nil
}

// SendTo implements core.Facility
func (m *MockFacility) SendTo(h core.Handle, buf []byte, dst core.Addr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(buf)
	if len(m.sendRes) > 0 {
		r := m.sendRes[0]
		m.sendRes = m.sendRes[1:]
		if r.Err != nil {
			return 0, r.Err
		}
		if r.N >= 0 && r.N < n {
			n = r.N
		}
	}
	m.sent = append(m.sent, MockDatagram{Data: append([]byte(nil), buf[:n]...), Addr: dst})
	return n, nil
}

// Write implements core.Facility
func (m *MockFacility) Write(h core.Handle, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	script := m.writes[h]
	if len(script) == 0 {
		return 0, core.ErrConnectionClosed
	}
	r := script[0]
	m.writes[h] = script[1:]
	if r.Err != nil {
		return 0, r.Err
	}
	n := len(buf)
	if r.N >= 0 && r.N < n {
		n = r.N
	}
	m.written[h] = append(m.written[h], buf[:n]...)
	return n, nil
}

// Close implements core.Facility
func (m *MockFacility) Close(h core.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, h)
	m.closed = append(m.closed, h)
}
