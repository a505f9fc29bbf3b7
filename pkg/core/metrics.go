package core

import "sync/atomic"

// BenchMetrics contains counters for one benchmark server. Fields are
// updated with sync/atomic and must be read through Snapshot.
type BenchMetrics struct {
	// DatagramsReceived is the number of datagrams received (any command).
	DatagramsReceived uint64

	// BytesReceived is the number of bytes received.
	BytesReceived uint64

	// RepliesSent is the number of counter replies sent.
	RepliesSent uint64

	// Resets is the number of reset commands handled.
	Resets uint64

	// Ignored is the number of empty or unknown-command datagrams.
	Ignored uint64

	// TryAgain is the number of "try again" results seen.
	TryAgain uint64

	// ConnectionsAccepted is the number of TCP connections accepted.
	ConnectionsAccepted uint64

	// ConnectionsClosed is the number of TCP connections finished.
	ConnectionsClosed uint64

	// BytesSent is the number of bytes written or sent.
	BytesSent uint64

	// Errors is the number of fatal errors encountered.
	Errors uint64
}

// Snapshot returns a consistent-per-field copy of m.
func (m *BenchMetrics) Snapshot() BenchMetrics {
	return BenchMetrics{
		DatagramsReceived:   atomic.LoadUint64(&m.DatagramsReceived),
		BytesReceived:       atomic.LoadUint64(&m.BytesReceived),
		RepliesSent:         atomic.LoadUint64(&m.RepliesSent),
		Resets:              atomic.LoadUint64(&m.Resets),
		Ignored:             atomic.LoadUint64(&m.Ignored),
		TryAgain:            atomic.LoadUint64(&m.TryAgain),
		ConnectionsAccepted: atomic.LoadUint64(&m.ConnectionsAccepted),
		ConnectionsClosed:   atomic.LoadUint64(&m.ConnectionsClosed),
		BytesSent:           atomic.LoadUint64(&m.BytesSent),
		Errors:              atomic.LoadUint64(&m.Errors),
	}
}

// Map flattens the snapshot for reporting.
func (m BenchMetrics) Map() map[string]uint64 {
	return map[string]uint64{
		"datagrams_recv": m.DatagramsReceived,
		"bytes_recv":     m.BytesReceived,
		"replies_sent":   m.RepliesSent,
		"resets":         m.Resets,
		"ignored":        m.Ignored,
		"try_again":      m.TryAgain,
		"conns_accepted": m.ConnectionsAccepted,
		"conns_closed":   m.ConnectionsClosed,
		"bytes_sent":     m.BytesSent,
		"errors":         m.Errors,
	}
}

// FacilityMetrics contains counters for a socket facility.
type FacilityMetrics struct {
	SocketsOpen     uint64
	SocketsCreated  uint64
	SocketsRejected uint64
	EventsQueued    uint64
	Errors          uint64
}

// Map flattens the facility counters for reporting.
func (m FacilityMetrics) Map() map[string]uint64 {
	return map[string]uint64{
		"sockets_open":     m.SocketsOpen,
		"sockets_created":  m.SocketsCreated,
		"sockets_rejected": m.SocketsRejected,
		"events_queued":    m.EventsQueued,
		"errors":           m.Errors,
	}
}
