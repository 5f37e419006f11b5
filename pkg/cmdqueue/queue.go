package cmdqueue

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pinforge/cabctl/pkg/util"
)

// Kind classifies a queued output command for coalescing and dispatch.
type Kind int

const (
	// KindRaw is an opaque write. A zero-length Raw payload is the
	// reserved shutdown sentinel.
	KindRaw Kind = iota

	// KindSetAllBanks carries the legacy 32-port on/off bitmask plus
	// pulse speed.
	KindSetAllBanks

	// KindSetProfiles carries the legacy 32 per-port level/waveform
	// bytes; a full-state update.
	KindSetProfiles

	// KindExtSetAllBanks and KindExtSetProfiles are the variable-width
	// forms addressed by start port.
	KindExtSetAllBanks
	KindExtSetProfiles
)

// MaxPayload bounds one entry's payload.
const MaxPayload = 64

// DefaultCapacity is the queue depth when none is given. Generous
// relative to coalescing: under sustained load most updates overwrite in
// place rather than occupy a new slot.
const DefaultCapacity = 64

// Target is the device a queued command is dispatched against. The
// queue holds a reference per occupied slot so the device cannot be
// torn down while a command naming it is pending or in flight.
type Target interface {
	// Dispatch executes one dequeued entry. Called only from the
	// consumer goroutine.
	Dispatch(e *Entry) error

	Retain()
	Release()
}

// Entry is one queued output command.
type Entry struct {
	Target    Target
	Kind      Kind
	Payload   []byte
	StartPort uint32
}

func (e *Entry) isSentinel() bool {
	return e.Kind == KindRaw && len(e.Payload) == 0
}

// fullState reports whether the kind replaces the complete output state
// of its target, making earlier unsent updates of the same kind
// obsolete.
func fullState(k Kind) bool {
	return k == KindSetProfiles || k == KindExtSetProfiles
}

func bankMask(k Kind) bool {
	return k == KindSetAllBanks || k == KindExtSetAllBanks
}

// ErrClosed is returned by Enqueue after the shutdown sentinel has been
// accepted.
var ErrClosed = errors.New("command queue closed")

// Queue is a bounded FIFO of output commands with type-aware
// coalescing, a single consumer goroutine, and back-pressure on
// producers only when the buffer is full.
type Queue struct {
	mu         sync.Mutex
	spaceAvail *sync.Cond
	dataAvail  *sync.Cond
	drained    *sync.Cond

	entries []Entry
	head    int
	count   int

	busy   bool // consumer is dispatching an entry
	closed bool

	wg  sync.WaitGroup
	log *logrus.Entry
}

// New creates a queue and starts its consumer goroutine.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		entries: make([]Entry, capacity),
		log:     logrus.WithField("component", "cmdqueue"),
	}
	q.spaceAvail = sync.NewCond(&q.mu)
	q.dataAvail = sync.NewCond(&q.mu)
	q.drained = sync.NewCond(&q.mu)
	q.wg.Add(1)
	go q.run()
	return q
}

// slot returns the i-th occupied entry in FIFO order (0 = oldest).
func (q *Queue) slot(i int) *Entry {
	return &q.entries[(q.head+i)%len(q.entries)]
}

// Enqueue adds or coalesces one command, returning the number of
// payload bytes accepted. It blocks only when the command needs a new
// slot and the buffer is full; coalesced updates never block.
func (q *Queue) Enqueue(e Entry) (int, error) {
	if len(e.Payload) > MaxPayload {
		return 0, errors.Errorf("payload of %d bytes exceeds %d byte limit", len(e.Payload), MaxPayload)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	if fullState(e.Kind) || bankMask(e.Kind) {
		// Coalesce onto the most recent unsent update of the same kind
		// to the same target, unless an update of the other family to
		// that target was queued after it. A port turned on inherits the
		// level it has at activation time, so the relative order of "set
		// levels" and "set on/off" to one target must hold; overwriting
		// across that boundary would change what the device ends up
		// showing.
		for i := q.count - 1; i >= 0; i-- {
			s := q.slot(i)
			if s.Target != e.Target {
				continue
			}
			if s.Kind == e.Kind && s.StartPort == e.StartPort {
				s.Payload = append(s.Payload[:0], e.Payload...)
				return len(e.Payload), nil
			}
			// Any other unsent command to the same target is an ordering
			// barrier; do not coalesce across it.
			break
		}
	}

	// Needs a fresh slot; this is the only producer-visible
	// back-pressure point.
	for q.count == len(q.entries) {
		q.spaceAvail.Wait()
		if q.closed {
			return 0, ErrClosed
		}
	}

	tail := (q.head + q.count) % len(q.entries)
	stored := Entry{
		Target:    e.Target,
		Kind:      e.Kind,
		Payload:   append([]byte(nil), e.Payload...),
		StartPort: e.StartPort,
	}
	q.entries[tail] = stored
	q.count++
	if e.Target != nil {
		e.Target.Retain()
	}
	q.dataAvail.Signal()
	return len(e.Payload), nil
}

// dequeue blocks until an entry is available, pops it, and marks the
// consumer busy. Consumer-only.
func (q *Queue) dequeue() Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 {
		q.dataAvail.Wait()
	}
	e := *q.slot(0)
	q.entries[q.head] = Entry{}
	q.head = (q.head + 1) % len(q.entries)
	q.count--
	q.busy = true
	q.spaceAvail.Signal()
	return e
}

// finish marks the consumer idle and wakes drain waiters when the queue
// has emptied out.
func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.busy = false
	if q.count == 0 {
		q.drained.Broadcast()
	}
}

// DrainAndWait blocks until every queued entry has been dispatched and
// the consumer is idle. Callers use it to order a synchronous read
// after all queued writes.
func (q *Queue) DrainAndWait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count > 0 || q.busy {
		q.drained.Wait()
	}
}

// Len returns the number of undispatched entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Close delivers the shutdown sentinel, rejects further producers, and
// joins the consumer after it has dispatched everything ahead of the
// sentinel.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	for q.count == len(q.entries) {
		q.spaceAvail.Wait()
	}
	q.closed = true
	tail := (q.head + q.count) % len(q.entries)
	q.entries[tail] = Entry{Kind: KindRaw}
	q.count++
	q.dataAvail.Signal()
	q.spaceAvail.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// run is the consumer loop. It owns all device dispatch for the queue's
// lifetime; failures are logged and dropped, since the producer has long
// since returned and has no channel for a late error.
func (q *Queue) run() {
	defer q.wg.Done()
	for {
		e := q.dequeue()
		if e.isSentinel() {
			q.finish()
			q.log.Info("command queue consumer stopped")
			return
		}
		if err := e.Target.Dispatch(&e); err != nil {
			q.log.WithError(err).WithFields(logrus.Fields{
				"kind":    e.Kind,
				"payload": util.HexBytes(e.Payload),
			}).Warn("dropping failed output command")
		}
		e.Target.Release()
		q.finish()
	}
}
