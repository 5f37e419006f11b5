package transport

import (
	"errors"
	"time"
)

var (
	// ErrRecvTimeout indicates that no data arrived within the receive
	// timeout. It is distinct from transport failure: the channel is
	// still usable after a timeout.
	ErrRecvTimeout = errors.New("receive timeout")

	// ErrClosed indicates the transport has been closed.
	ErrClosed = errors.New("transport closed")
)

// Transport is a duplex byte-oriented channel to one feedback controller.
// Implementations must be safe for one concurrent sender and one
// concurrent receiver.
type Transport interface {
	// Send transmits exactly len(p) bytes or fails. A short write is an
	// error, never a partial success.
	Send(p []byte) error

	// Receive reads up to len(p) bytes, blocking at most timeout. It may
	// return fewer bytes than requested; callers needing an exact count
	// must loop. Returns ErrRecvTimeout when nothing arrived in time.
	Receive(p []byte, timeout time.Duration) (int, error)

	Close() error
}

// Info describes one enumerated controller endpoint.
type Info struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Serial       string
	Product      string
	Manufacturer string
}
