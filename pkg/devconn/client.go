package devconn

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pinforge/cabctl/pkg/transport"
	"github.com/pinforge/cabctl/pkg/util"
)

// Client turns one logical request into exactly one correlated response
// over a shared transport, absorbing reply traffic left over from
// unrelated concurrent clients of the same device.
type Client struct {
	xport   transport.Transport
	timeout time.Duration
	log     *logrus.Entry

	// mu serializes calls: the peripheral processes one request at a
	// time, and a second in-flight request from the same session would
	// desynchronize token correlation.
	mu    sync.Mutex
	token uint32
}

// NewClient wraps a transport in a protocol session. The token counter
// is seeded from the clock so a stale reply left over from a prior
// session is unlikely to collide with a live token.
func NewClient(t transport.Transport) *Client {
	return &Client{
		xport:   t,
		timeout: DefaultCallTimeout,
		log:     logrus.WithField("session", util.UUID()),
		token:   uint32(time.Now().UnixNano()),
	}
}

// SetCallTimeout overrides the per-call reply deadline.
func (c *Client) SetCallTimeout(d time.Duration) {
	c.timeout = d
}

// Transport returns the underlying transport.
func (c *Client) Transport() transport.Transport {
	return c.xport
}

func (c *Client) Close() error {
	return c.xport.Close()
}

func (c *Client) nextToken() uint32 {
	c.token++
	return c.token
}

// Call sends one command and waits for its correlated reply.
//
// outBulk, if non-nil, is sent as a bulk payload immediately after the
// request frame. inBulk, if non-nil, receives any bulk payload following
// the reply frame; a reply that carries bulk data when inBulk is nil is
// drained and reported as ErrBadParams.
//
// The device-reported status is returned verbatim in the Response; Call
// does not interpret command-specific status meanings.
//
// Send-side errors surface as ErrTransferFailed, timeouts included: the
// transport's send contract has no timeout distinct from failure, so
// ErrTimeout is reserved for a reply that never arrived.
func (c *Client) Call(command byte, args []byte, outBulk []byte, inBulk []byte) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(outBulk) > math.MaxUint16 {
		return nil, ErrBadTransferLength
	}
	if len(args) > MaxRequestArgs {
		return nil, ErrBadParams
	}

	req := NewRequest(c.nextToken(), command, args, uint16(len(outBulk)))
	frame := make([]byte, RequestFrameSize)
	if err := req.Encode(frame); err != nil {
		return nil, err
	}

	if err := c.xport.Send(frame); err != nil {
		c.log.WithError(err).WithField("command", command).Error("request send failed")
		return nil, ErrTransferFailed
	}
	if len(outBulk) > 0 {
		if err := c.xport.Send(outBulk); err != nil {
			c.log.WithError(err).WithField("command", command).Error("bulk send failed")
			return nil, ErrTransferFailed
		}
	}

	return c.awaitReply(req, inBulk)
}

// awaitReply runs the correlation read loop: receive response-sized
// frames until the token matches or the deadline elapses. Frames of the
// wrong size are leftover bulk data from a stale reply and are skipped.
func (c *Client) awaitReply(req *Request, inBulk []byte) (*Response, error) {
	deadline := time.Now().Add(c.timeout)
	sawForeign := false
	buf := make([]byte, ResponseFrameSize)

	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			if sawForeign {
				c.log.WithField("token", req.Token).Warn("deadline elapsed with only foreign replies")
				return nil, ErrReplyMismatch
			}
			return nil, ErrTimeout
		}
		if remain > recvChunkTimeout {
			remain = recvChunkTimeout
		}

		n, err := c.xport.Receive(buf, remain)
		if err == transport.ErrRecvTimeout {
			continue
		}
		if err != nil {
			c.log.WithError(err).Error("reply receive failed")
			return nil, ErrTransferFailed
		}
		if n != ResponseFrameSize {
			// Stale bulk data from an earlier reply to another client;
			// drain and keep looking.
			sawForeign = true
			continue
		}

		resp, err := DecodeResponse(buf[:n])
		if err != nil {
			sawForeign = true
			continue
		}
		if resp.Token != req.Token {
			sawForeign = true
			continue
		}
		if resp.Command != req.Command {
			c.log.WithFields(logrus.Fields{
				"token":    req.Token,
				"sent":     req.Command,
				"received": resp.Command,
			}).Error("matched token with wrong command echo")
			return nil, ErrReplyMismatch
		}

		if resp.BulkLen > 0 {
			if err := c.readBulk(resp, inBulk); err != nil {
				return resp, err
			}
		}
		return resp, nil
	}
}

// readBulk drains exactly resp.BulkLen bytes of reply bulk data.
// Transport reads may return partial chunks; loop until complete. If the
// caller supplied no buffer (or too small a buffer) the data is drained
// into a scratch buffer so the session stays framed, and the call fails
// with ErrBadParams.
func (c *Client) readBulk(resp *Response, inBulk []byte) error {
	want := int(resp.BulkLen)
	discard := inBulk == nil || len(inBulk) < want
	dst := inBulk
	if discard {
		dst = make([]byte, want)
	}

	deadline := time.Now().Add(c.timeout)
	got := 0
	for got < want {
		remain := time.Until(deadline)
		if remain <= 0 {
			return ErrTimeout
		}
		n, err := c.xport.Receive(dst[got:want], remain)
		if err == transport.ErrRecvTimeout {
			continue
		}
		if err != nil {
			return ErrTransferFailed
		}
		got += n
	}
	if discard {
		return ErrBadParams
	}
	return nil
}

// Ping issues a no-op round trip.
func (c *Client) Ping() error {
	resp, err := c.Call(CmdPing, nil, nil, nil)
	if err != nil {
		return err
	}
	return statusErr(CmdPing, resp.Status)
}

// QueryIdentity asks the controller to describe itself.
func (c *Client) QueryIdentity() (*Identity, error) {
	resp, err := c.Call(CmdQueryIdentity, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := statusErr(CmdQueryIdentity, resp.Status); err != nil {
		return nil, err
	}
	if len(resp.Args) < 13 {
		return nil, ErrReplyMismatch
	}
	return &Identity{
		UnitNumber:      resp.Args[0],
		PortCount:       binary.LittleEndian.Uint16(resp.Args[1:]),
		ProtocolVersion: binary.LittleEndian.Uint16(resp.Args[3:]),
		HardwareID:      binary.LittleEndian.Uint64(resp.Args[5:]),
	}, nil
}

// QueryStatus asks for the controller's health report.
func (c *Client) QueryStatus() (*Status, error) {
	resp, err := c.Call(CmdQueryStatus, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := statusErr(CmdQueryStatus, resp.Status); err != nil {
		return nil, err
	}
	if len(resp.Args) < 11 {
		return nil, ErrReplyMismatch
	}
	return &Status{
		Uptime:       time.Duration(binary.LittleEndian.Uint32(resp.Args[0:])) * time.Second,
		ConfigLoaded: resp.Args[4] != 0,
		ConfigSize:   binary.LittleEndian.Uint32(resp.Args[5:]),
		LastError:    binary.LittleEndian.Uint16(resp.Args[9:]),
	}, nil
}

// EraseConfig erases the stored configuration blob. Required before
// re-PUT after an abandoned paged write.
func (c *Client) EraseConfig() error {
	resp, err := c.Call(CmdEraseConfig, nil, nil, nil)
	if err != nil {
		return err
	}
	return statusErr(CmdEraseConfig, resp.Status)
}

// CommitConfig makes the staged configuration the active one.
func (c *Client) CommitConfig() error {
	resp, err := c.Call(CmdCommitConfig, nil, nil, nil)
	if err != nil {
		return err
	}
	return statusErr(CmdCommitConfig, resp.Status)
}

// RevertConfig discards staged configuration changes.
func (c *Client) RevertConfig() error {
	resp, err := c.Call(CmdRevertConfig, nil, nil, nil)
	if err != nil {
		return err
	}
	return statusErr(CmdRevertConfig, resp.Status)
}
