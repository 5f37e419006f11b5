package device

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/pinforge/cabctl/pkg/cmdqueue"
	"github.com/pinforge/cabctl/pkg/devconn"
	"github.com/pinforge/cabctl/pkg/transport"
	"github.com/pinforge/cabctl/pkg/util"
)

// Unit is one legacy-addressable device slot.
type Unit struct {
	Number uint8
	Ref    *Ref
}

// Registry maps legacy unit numbers to device handles and owns the
// shared command queue. It replaces the classic global device table
// with an explicitly constructed and torn down object.
type Registry struct {
	mu     sync.Mutex
	units  map[uint8]*Unit
	queue  *cmdqueue.Queue
	closed bool
	log    *logrus.Entry
}

// NewRegistry creates an empty registry with its own command queue and
// consumer.
func NewRegistry(queueCapacity int) *Registry {
	return &Registry{
		units: map[uint8]*Unit{},
		queue: cmdqueue.New(queueCapacity),
		log:   logrus.WithField("registry", util.UUID()),
	}
}

// Queue exposes the registry's command queue.
func (r *Registry) Queue() *cmdqueue.Queue {
	return r.queue
}

// AddRaw registers a raw packet endpoint under one unit number. The
// registry takes ownership of the transport.
func (r *Registry) AddRaw(unit uint8, t transport.Transport, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("registry closed")
	}
	if _, ok := r.units[unit]; ok {
		return errors.Errorf("unit %d already registered", unit)
	}
	r.units[unit] = &Unit{Number: unit, Ref: NewRaw(t, name)}
	r.log.WithFields(logrus.Fields{"unit": unit, "name": name}).Info("registered raw device")
	return nil
}

// AddController registers a protocol-engine-backed controller starting
// at firstUnit. A controller wider than the legacy port count is split
// into consecutive virtual units of LegacyPortCount ports each. Returns
// the number of unit slots consumed. The registry takes ownership of
// the client.
func (r *Registry) AddController(firstUnit uint8, c *devconn.Client, name string, portCount int) (int, error) {
	if portCount <= 0 {
		return 0, errors.Errorf("controller %s reports no ports", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.New("registry closed")
	}

	n := (portCount + LegacyPortCount - 1) / LegacyPortCount
	if int(firstUnit)+n > 256 {
		// Unit numbers are a single byte; wrapping would silently
		// overwrite windows registered earlier in this batch.
		return 0, errors.Errorf("controller %s needs %d unit slots starting at %d, beyond the 256-unit namespace", name, n, firstUnit)
	}
	for i := 0; i < n; i++ {
		unit := firstUnit + uint8(i)
		if _, ok := r.units[unit]; ok {
			return 0, errors.Errorf("unit %d already registered", unit)
		}
	}

	base := NewEngine(c, name, portCount)
	if n == 1 {
		r.units[firstUnit] = &Unit{Number: firstUnit, Ref: base}
	} else {
		for i := 0; i < n; i++ {
			unit := firstUnit + uint8(i)
			r.units[unit] = &Unit{
				Number: unit,
				Ref:    NewVirtual(base, uint32(i*LegacyPortCount)),
			}
		}
		// The virtual windows hold the base alive now.
		base.Release()
	}
	r.log.WithFields(logrus.Fields{
		"firstUnit": firstUnit,
		"units":     n,
		"ports":     portCount,
		"name":      name,
	}).Info("registered controller")
	return n, nil
}

// Unit looks up a registered unit.
func (r *Registry) Unit(n uint8) (*Unit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[n]
	return u, ok
}

// Units returns the registered unit numbers in unspecified order.
func (r *Registry) Units() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint8, 0, len(r.units))
	for n := range r.units {
		out = append(out, n)
	}
	return out
}

// Close drains and stops the command queue, then releases every
// registered device handle. Errors are aggregated.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	units := r.units
	r.units = map[uint8]*Unit{}
	r.mu.Unlock()

	var errs error
	if err := r.queue.Close(); err != nil && err != cmdqueue.ErrClosed {
		errs = multierr.Append(errs, err)
	}
	for _, u := range units {
		u.Ref.Release()
	}
	return errs
}
