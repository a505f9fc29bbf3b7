package core

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
)

// Handle identifies one open socket at a Facility.
type Handle int

// InvalidHandle is never returned by a successful Create or Accept.
const InvalidHandle Handle = -1

// Status is the state reported by a Facility.
type Status int

const (
	// StatusOther covers every state that is neither running nor fatal
	// (initialising, stopped, ...).
	StatusOther Status = iota
	StatusRunning
	StatusFatalError
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusFatalError:
		return "fatal-error"
	default:
		return "other"
	}
}

// AddressFamily selects the network layer of a socket.
type AddressFamily int

const (
	AFInet AddressFamily = iota
	AFInet6
)

// SocketType selects datagram or stream semantics.
type SocketType int

const (
	SockDgram SocketType = iota
	SockStream
)

// Addr is an IP address and port as seen by the Facility.
type Addr struct {
	IP   string
	Port uint16
}

// AnyAddr is the wildcard address on the given port.
func AnyAddr(port uint16) Addr {
	return Addr{IP: "0.0.0.0", Port: port}
}

func (a Addr) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(int(a.Port)))
}

// ParseAddr parses "host:port".
func ParseAddr(s string) (Addr, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return Addr{IP: host, Port: uint16(p)}, nil
}

// EventMask is a set of socket event flags.
type EventMask uint32

const (
	// EventConnAccepted: a connection is ready to be accepted on a listening socket.
	EventConnAccepted EventMask = 1 << iota
	// EventFin: the remote side finished the connection.
	EventFin
	// EventClose: closing the socket was requested.
	EventClose
	// EventError: the socket has an error; Event.Err carries it.
	EventError
	// EventRead: data is available.
	EventRead
	// EventWrite: the socket became writable.
	EventWrite
)

// Has reports whether all bits of flag are set.
func (m EventMask) Has(flag EventMask) bool { return m&flag == flag }

// Event is the pending event set of one socket.
type Event struct {
	Handle Handle
	Mask   EventMask
	Err    error
}

// Facility is the socket facility the benchmark servers run on. All I/O
// primitives are non-blocking: when an operation cannot complete yet they
// return ErrTryAgain and the caller retries.
type Facility interface {
	// Status reports whether the underlying network stack is usable.
	Status() Status

	Create(family AddressFamily, typ SocketType) (Handle, error)
	Bind(h Handle, addr Addr) error
	Listen(h Handle, backlog int) error

	// Wait blocks until at least one socket event is pending.
	Wait() error

	// PendingEvents returns up to max pending events, one per socket.
	PendingEvents(max int) ([]Event, error)

	Accept(h Handle) (Handle, Addr, error)
	RecvFrom(h Handle, buf []byte) (int, Addr, error)
	SendTo(h Handle, buf []byte, dst Addr) (int, error)
	Write(h Handle, buf []byte) (int, error)
	Close(h Handle)
}

// YieldFunc gives up the remainder of the caller's time slice.
type YieldFunc func()

// DefaultYield yields to the Go scheduler.
func DefaultYield() { runtime.Gosched() }
