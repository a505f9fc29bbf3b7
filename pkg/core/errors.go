package core

import "errors"

// Facility error values. Implementations wrap them with fmt.Errorf("...: %w")
// and callers test with errors.Is.
var (
	// ErrTryAgain means the operation could not complete yet; retry it.
	ErrTryAgain = errors.New("try again")

	// ErrConnectionClosed means the connection was closed by the peer.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrConnShutdown means the connection or the facility was shut down locally.
	ErrConnShutdown = errors.New("connection shut down")

	// ErrConnRefused is reported when the remote side finished a connection
	// on the listening socket.
	ErrConnRefused = errors.New("connection refused")

	ErrAborted       = errors.New("network stack failed")
	ErrInvalidState  = errors.New("invalid state")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrNoSpace       = errors.New("no free socket")
	ErrShortWrite    = errors.New("short write")
	ErrNotSupported  = errors.New("operation not supported")
)

// IsTryAgain reports whether err asks the caller to retry.
func IsTryAgain(err error) bool {
	return errors.Is(err, ErrTryAgain)
}

// IsClosed reports whether err is an expected end of a connection.
func IsClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrConnShutdown)
}
