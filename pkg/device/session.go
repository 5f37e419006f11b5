package device

import (
	"github.com/gofrs/flock"
	"go.uber.org/multierr"

	"github.com/pinforge/cabctl/pkg/devconn"
	"github.com/pinforge/cabctl/pkg/transport"
)

// Session is a directly opened protocol session on one controller, for
// synchronous query and configuration work outside the registry/queue
// path.
type Session struct {
	Path   string
	Engine *devconn.Client
	lock   *flock.Flock
}

// Open acquires the host-session lock for the device at path, opens its
// HID transport, and starts a protocol session on it.
func Open(path string) (*Session, error) {
	lock, err := AcquireSessionLock(path)
	if err != nil {
		return nil, err
	}
	t, err := transport.Open(path)
	if err != nil {
		if uerr := lock.Unlock(); uerr != nil {
			err = multierr.Append(err, uerr)
		}
		return nil, err
	}
	return &Session{
		Path:   path,
		Engine: devconn.NewClient(t),
		lock:   lock,
	}, nil
}

// Close tears the session down, releasing the transport and the
// host-session lock.
func (s *Session) Close() error {
	return multierr.Append(s.Engine.Close(), s.lock.Unlock())
}

// ReleaseLock releases only the host-session lock, for callers that
// have handed the engine off to a registry that now owns its teardown.
func (s *Session) ReleaseLock() error {
	return s.lock.Unlock()
}
