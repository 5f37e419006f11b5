package device

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pinforge/cabctl/pkg/cmdqueue"
	"github.com/pinforge/cabctl/pkg/devconn"
	"github.com/pinforge/cabctl/pkg/transport"
)

// LegacyPortCount is the fixed port width of the emulated legacy output
// API. Larger controllers are split into virtual units of this size.
const LegacyPortCount = 32

// Ref is a reference-counted handle to a controller endpoint. Exactly
// one of three flavors backs it:
//
//   - a raw packet endpoint, written to directly;
//   - a protocol-engine session, dispatched through devconn calls;
//   - a virtual sub-unit, a window onto a contiguous port range of a
//     larger base device, resolved to its base before any protocol call.
//
// The queue, in-flight dispatches, and application code may all hold a
// Ref concurrently; the underlying transport is released only when the
// last reference drops.
type Ref struct {
	refs atomic.Int32
	name string

	raw    transport.Transport
	engine *devconn.Client

	base       *Ref
	portOffset uint32

	portCount int

	// optional per-device host-session lock, released with the last
	// reference
	lock *flock.Flock

	log *logrus.Entry
}

// NewRaw wraps a raw packet endpoint, such as a legacy-only device that
// speaks its native report format and nothing else.
func NewRaw(t transport.Transport, name string) *Ref {
	r := &Ref{
		raw:       t,
		name:      name,
		portCount: LegacyPortCount,
		log:       logrus.WithField("device", name),
	}
	r.refs.Store(1)
	return r
}

// NewEngine wraps a protocol-engine session.
func NewEngine(c *devconn.Client, name string, portCount int) *Ref {
	r := &Ref{
		engine:    c,
		name:      name,
		portCount: portCount,
		log:       logrus.WithField("device", name),
	}
	r.refs.Store(1)
	return r
}

// NewVirtual creates a legacy-sized window onto base starting at
// portOffset. It takes its own reference on base.
func NewVirtual(base *Ref, portOffset uint32) *Ref {
	base.Retain()
	r := &Ref{
		base:       base,
		portOffset: portOffset,
		name:       base.name,
		portCount:  LegacyPortCount,
		log:        base.log.WithField("portOffset", portOffset),
	}
	r.refs.Store(1)
	return r
}

// Name returns the device's display name.
func (r *Ref) Name() string {
	return r.name
}

// PortCount returns the number of output ports this handle addresses.
func (r *Ref) PortCount() int {
	return r.portCount
}

// Engine returns the protocol session backing this handle, resolving
// virtual windows to their base; nil for raw endpoints.
func (r *Ref) Engine() *devconn.Client {
	return r.resolve().engine
}

// SetLock attaches a host-session lock released with the last reference.
func (r *Ref) SetLock(l *flock.Flock) {
	r.lock = l
}

func (r *Ref) resolve() *Ref {
	for r.base != nil {
		r = r.base
	}
	return r
}

// Retain adds a reference.
func (r *Ref) Retain() {
	r.refs.Add(1)
}

// Release drops a reference, tearing down the underlying endpoint when
// the last one goes.
func (r *Ref) Release() {
	if r.refs.Add(-1) != 0 {
		return
	}
	if r.base != nil {
		r.base.Release()
	}
	if r.engine != nil {
		if err := r.engine.Close(); err != nil {
			r.log.WithError(err).Warn("error closing protocol session")
		}
	}
	if r.raw != nil {
		if err := r.raw.Close(); err != nil {
			r.log.WithError(err).Warn("error closing raw endpoint")
		}
	}
	if r.lock != nil {
		if err := r.lock.Unlock(); err != nil {
			r.log.WithError(err).Warn("error releasing session lock")
		}
	}
	r.log.Debug("device handle released")
}

// Dispatch routes one dequeued command to the device. Raw endpoints are
// written directly; engine-backed endpoints decode the command kind into
// the corresponding protocol call. Runs on the queue consumer goroutine.
func (r *Ref) Dispatch(e *cmdqueue.Entry) error {
	if r.base != nil {
		// Resolve the virtual window: shift into the base's port space
		// and use the port-addressed command forms.
		resolved := *e
		resolved.Target = r.base
		resolved.StartPort = e.StartPort + r.portOffset
		switch e.Kind {
		case cmdqueue.KindSetAllBanks:
			resolved.Kind = cmdqueue.KindExtSetAllBanks
		case cmdqueue.KindSetProfiles:
			resolved.Kind = cmdqueue.KindExtSetProfiles
		}
		return r.base.Dispatch(&resolved)
	}

	if r.raw != nil {
		return r.raw.Send(e.Payload)
	}

	var resp *devconn.Response
	var err error
	switch e.Kind {
	case cmdqueue.KindSetAllBanks:
		resp, err = r.engine.Call(devconn.CmdSetBankMask, e.Payload, nil, nil)
	case cmdqueue.KindSetProfiles:
		resp, err = r.engine.Call(devconn.CmdSetProfiles, nil, e.Payload, nil)
	case cmdqueue.KindExtSetAllBanks:
		args := make([]byte, 4+len(e.Payload))
		binary.LittleEndian.PutUint32(args, e.StartPort)
		copy(args[4:], e.Payload)
		resp, err = r.engine.Call(devconn.CmdSetBankMaskEx, args, nil, nil)
	case cmdqueue.KindExtSetProfiles:
		args := make([]byte, 4)
		binary.LittleEndian.PutUint32(args, e.StartPort)
		resp, err = r.engine.Call(devconn.CmdSetProfilesEx, args, e.Payload, nil)
	case cmdqueue.KindRaw:
		resp, err = r.engine.Call(devconn.CmdRawOutput, nil, e.Payload, nil)
	default:
		return errors.Errorf("unknown command kind %d", e.Kind)
	}
	if err != nil {
		return err
	}
	return resp.Err()
}

// Read performs a synchronous read from the device. Raw endpoints read
// the transport directly; engine-backed endpoints issue a raw-input
// call. Callers that care about ordering against queued writes must
// drain the queue first.
func (r *Ref) Read(buf []byte, timeout time.Duration) (int, error) {
	dev := r.resolve()
	if dev.raw != nil {
		return dev.raw.Receive(buf, timeout)
	}
	resp, err := dev.engine.Call(devconn.CmdRawInput, nil, nil, buf)
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	return int(resp.BulkLen), nil
}
