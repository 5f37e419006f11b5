package devconn

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Wire layout, little-endian throughout.
//
// Request frame (32 bytes):
//
//	[0:4]   token
//	[4]     command
//	[5]     argLen
//	[6:8]   bulkLen
//	[8:12]  checksum = ^(token + command + bulkLen)
//	[12:32] args, zero-padded
//
// Response frame (32 bytes):
//
//	[0:4]   token
//	[4]     command
//	[5]     argLen
//	[6:8]   status
//	[8:10]  bulkLen
//	[10:32] args, zero-padded
//
// The checksum is verified by the receiver independent of transport
// integrity: the transport may be shared with unrelated untrusted
// processes, so a well-formed header is not assumed.
const (
	RequestFrameSize  = 32
	ResponseFrameSize = 32

	MaxRequestArgs  = RequestFrameSize - 12
	MaxResponseArgs = ResponseFrameSize - 10
)

// Request is one framed command. Checksum is fixed by Seal; Encode
// refuses to emit a frame whose header fields no longer match it.
type Request struct {
	Token    uint32
	Command  byte
	Args     []byte
	BulkLen  uint16
	Checksum uint32
}

// Response is one framed reply.
type Response struct {
	Token   uint32
	Command byte
	Status  uint16
	Args    []byte
	BulkLen uint16
}

func requestChecksum(token uint32, command byte, bulkLen uint16) uint32 {
	return ^(token + uint32(command) + uint32(bulkLen))
}

// NewRequest builds and seals a request frame.
func NewRequest(token uint32, command byte, args []byte, bulkLen uint16) *Request {
	r := &Request{
		Token:   token,
		Command: command,
		Args:    args,
		BulkLen: bulkLen,
	}
	r.Seal()
	return r
}

// Seal recomputes the header checksum from the current field values.
func (r *Request) Seal() {
	r.Checksum = requestChecksum(r.Token, r.Command, r.BulkLen)
}

// Encode writes the frame into buf, which must hold RequestFrameSize
// bytes. It self-checks the sealed checksum against the header fields
// before emitting anything.
func (r *Request) Encode(buf []byte) error {
	if len(buf) < RequestFrameSize {
		return errors.Errorf("request buffer too small: %d < %d", len(buf), RequestFrameSize)
	}
	if len(r.Args) > MaxRequestArgs {
		return errors.Errorf("request args too long: %d > %d", len(r.Args), MaxRequestArgs)
	}
	if r.Checksum != requestChecksum(r.Token, r.Command, r.BulkLen) {
		return errors.Errorf("request checksum stale for token %d; header mutated after Seal", r.Token)
	}

	binary.LittleEndian.PutUint32(buf[0:], r.Token)
	buf[4] = r.Command
	buf[5] = byte(len(r.Args))
	binary.LittleEndian.PutUint16(buf[6:], r.BulkLen)
	binary.LittleEndian.PutUint32(buf[8:], r.Checksum)
	n := copy(buf[12:RequestFrameSize], r.Args)
	for i := 12 + n; i < RequestFrameSize; i++ {
		buf[i] = 0
	}
	return nil
}

// DecodeRequest parses a request frame, rejecting undersized buffers and
// checksum mismatches. Used by the receiving side (and test fixtures).
func DecodeRequest(buf []byte) (*Request, error) {
	if len(buf) < RequestFrameSize {
		return nil, errors.Errorf("request frame too short: %d < %d", len(buf), RequestFrameSize)
	}
	r := &Request{
		Token:    binary.LittleEndian.Uint32(buf[0:]),
		Command:  buf[4],
		BulkLen:  binary.LittleEndian.Uint16(buf[6:]),
		Checksum: binary.LittleEndian.Uint32(buf[8:]),
	}
	argLen := int(buf[5])
	if argLen > MaxRequestArgs {
		return nil, errors.Errorf("request arg length %d exceeds frame capacity", argLen)
	}
	if r.Checksum != requestChecksum(r.Token, r.Command, r.BulkLen) {
		return nil, errors.Errorf("request checksum mismatch for token %d", r.Token)
	}
	r.Args = make([]byte, argLen)
	copy(r.Args, buf[12:12+argLen])
	return r, nil
}

// Encode writes the response frame into buf, which must hold
// ResponseFrameSize bytes.
func (r *Response) Encode(buf []byte) error {
	if len(buf) < ResponseFrameSize {
		return errors.Errorf("response buffer too small: %d < %d", len(buf), ResponseFrameSize)
	}
	if len(r.Args) > MaxResponseArgs {
		return errors.Errorf("response args too long: %d > %d", len(r.Args), MaxResponseArgs)
	}
	binary.LittleEndian.PutUint32(buf[0:], r.Token)
	buf[4] = r.Command
	buf[5] = byte(len(r.Args))
	binary.LittleEndian.PutUint16(buf[6:], r.Status)
	binary.LittleEndian.PutUint16(buf[8:], r.BulkLen)
	n := copy(buf[10:ResponseFrameSize], r.Args)
	for i := 10 + n; i < ResponseFrameSize; i++ {
		buf[i] = 0
	}
	return nil
}

// DecodeResponse parses a response frame, rejecting undersized buffers
// before any field read.
func DecodeResponse(buf []byte) (*Response, error) {
	if len(buf) < ResponseFrameSize {
		return nil, errors.Errorf("response frame too short: %d < %d", len(buf), ResponseFrameSize)
	}
	r := &Response{
		Token:   binary.LittleEndian.Uint32(buf[0:]),
		Command: buf[4],
		Status:  binary.LittleEndian.Uint16(buf[6:]),
		BulkLen: binary.LittleEndian.Uint16(buf[8:]),
	}
	argLen := int(buf[5])
	if argLen > MaxResponseArgs {
		return nil, errors.Errorf("response arg length %d exceeds frame capacity", argLen)
	}
	r.Args = make([]byte, argLen)
	copy(r.Args, buf[10:10+argLen])
	return r, nil
}
