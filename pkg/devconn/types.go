package devconn

import (
	"errors"
	"fmt"
	"time"
)

// Command codes understood by the controller firmware. The full catalog
// is much larger; only the commands this client issues get names here,
// everything else is passed through opaquely via Call.
const (
	CmdPing          = 0x01
	CmdQueryIdentity = 0x02
	CmdQueryStatus   = 0x03

	CmdSetBankMask    = 0x10 // 4 bank bitmask bytes + pulse speed, 32 ports
	CmdSetProfiles    = 0x11 // 32 per-port level/waveform bytes
	CmdSetBankMaskEx  = 0x12 // start port + variable-width bitmask
	CmdSetProfilesEx  = 0x13 // start port + variable-width profile array
	CmdRawOutput      = 0x14 // opaque pass-through to the output manager
	CmdRawInput       = 0x15

	CmdPutConfigPage = 0x20
	CmdGetConfigPage = 0x21
	CmdEraseConfig   = 0x22
	CmdCommitConfig  = 0x23
	CmdRevertConfig  = 0x24
)

// Device-reported status codes. Passed through Call verbatim; only the
// paged transfer layer and the typed helpers interpret them.
const (
	StatusOK           = uint16(0x0000)
	StatusFailed       = uint16(0x0001)
	StatusBadCommand   = uint16(0x0002)
	StatusBadArgs      = uint16(0x0003)
	StatusPageNotFound = uint16(0x0004)
	StatusRetryOK      = uint16(0x0005)
	StatusBusy         = uint16(0x0006)
)

var (
	// ErrTimeout means the deadline elapsed without any reply frame.
	ErrTimeout = errors.New("device reply timeout")

	// ErrReplyMismatch means the reply stream is desynchronized: either a
	// matched token carried the wrong command echo, or the deadline
	// elapsed after only foreign-token frames arrived. The call must not
	// be retried blindly.
	ErrReplyMismatch = errors.New("device reply mismatch")

	// ErrTransferFailed is a transport-layer I/O failure.
	ErrTransferFailed = errors.New("device transfer failed")

	// ErrBadTransferLength means the caller's bulk payload does not fit
	// the protocol's 16-bit length field.
	ErrBadTransferLength = errors.New("transfer length out of range")

	// ErrBadParams is a caller programming error, such as receiving bulk
	// data without having supplied a buffer for it.
	ErrBadParams = errors.New("bad call parameters")
)

// StatusError carries a non-OK device status code verbatim.
type StatusError struct {
	Command byte
	Status  uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device status 0x%04x (command 0x%02x)", e.Status, e.Command)
}

// statusErr wraps a non-OK status; nil for StatusOK.
func statusErr(cmd byte, status uint16) error {
	if status == StatusOK {
		return nil
	}
	return &StatusError{Command: cmd, Status: status}
}

// Err converts the response's device-reported status into an error,
// nil for StatusOK.
func (r *Response) Err() error {
	return statusErr(r.Command, r.Status)
}

const (
	// DefaultCallTimeout bounds one request/reply exchange end to end.
	DefaultCallTimeout = 2 * time.Second

	// recvChunkTimeout bounds one transport receive inside the read loop,
	// so the loop can re-check the overall deadline.
	recvChunkTimeout = 250 * time.Millisecond
)

// Identity is the controller's self-description, from CmdQueryIdentity.
type Identity struct {
	UnitNumber      uint8
	PortCount       uint16
	ProtocolVersion uint16
	HardwareID      uint64
}

// Status is the controller's current health report, from CmdQueryStatus.
type Status struct {
	Uptime       time.Duration
	ConfigLoaded bool
	ConfigSize   uint32
	LastError    uint16
}
