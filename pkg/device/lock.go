package device

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Two host processes sharing one physical device would interleave their
// token streams and desynchronize reply correlation, so each opened
// device is guarded by an advisory lock file keyed by its platform path.

func sessionLockPath(devicePath string) string {
	sum := sha256.Sum256([]byte(devicePath))
	name := fmt.Sprintf("cabctl-%s.lock", hex.EncodeToString(sum[:8]))
	return filepath.Join(os.TempDir(), name)
}

// AcquireSessionLock takes the host-session lock for the device at the
// given path, failing immediately if another process holds it.
func AcquireSessionLock(devicePath string) (*flock.Flock, error) {
	l := flock.New(sessionLockPath(devicePath))
	locked, err := l.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot lock device %s", devicePath)
	}
	if !locked {
		return nil, errors.Errorf("device %s is in use by another process", devicePath)
	}
	return l, nil
}
