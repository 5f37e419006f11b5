package device

import (
	"time"

	"github.com/pkg/errors"

	"github.com/pinforge/cabctl/pkg/cmdqueue"
)

// Legacy output-control surface: the fixed 32-port API emulated on top
// of the variable-width protocol. Output commands go through the queue
// and never block the caller on device I/O; they are fire-and-forget by
// design, since the caller has returned long before the write executes.

// SetAllBanks queues the legacy all-ports on/off update: four bank
// bitmask bytes plus a pulse-speed byte. Returns the number of payload
// bytes accepted.
func (r *Registry) SetAllBanks(unit uint8, banks [4]byte, pulseSpeed byte) (int, error) {
	u, ok := r.Unit(unit)
	if !ok {
		return 0, errors.Errorf("unit %d not registered", unit)
	}
	payload := make([]byte, 5)
	copy(payload, banks[:])
	payload[4] = pulseSpeed
	return r.queue.Enqueue(cmdqueue.Entry{
		Target:  u.Ref,
		Kind:    cmdqueue.KindSetAllBanks,
		Payload: payload,
	})
}

// SetAllProfiles queues the legacy full-state update: 32 per-port
// level/waveform bytes.
func (r *Registry) SetAllProfiles(unit uint8, profiles [LegacyPortCount]byte) (int, error) {
	u, ok := r.Unit(unit)
	if !ok {
		return 0, errors.Errorf("unit %d not registered", unit)
	}
	return r.queue.Enqueue(cmdqueue.Entry{
		Target:  u.Ref,
		Kind:    cmdqueue.KindSetProfiles,
		Payload: append([]byte(nil), profiles[:]...),
	})
}

// RawWrite queues an opaque write to the unit. A zero-length payload is
// reserved for queue shutdown and rejected here.
func (r *Registry) RawWrite(unit uint8, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, errors.New("empty raw write")
	}
	u, ok := r.Unit(unit)
	if !ok {
		return 0, errors.Errorf("unit %d not registered", unit)
	}
	return r.queue.Enqueue(cmdqueue.Entry{
		Target:  u.Ref,
		Kind:    cmdqueue.KindRaw,
		Payload: append([]byte(nil), data...),
	})
}

// RawRead drains the queue, then reads synchronously from the unit, so
// no queued write races with the read.
func (r *Registry) RawRead(unit uint8, buf []byte, timeout time.Duration) (int, error) {
	u, ok := r.Unit(unit)
	if !ok {
		return 0, errors.Errorf("unit %d not registered", unit)
	}
	r.queue.DrainAndWait()
	return u.Ref.Read(buf, timeout)
}
