package transport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	hid "github.com/sstallion/go-hid"
)

const (
	// Size of one HID report on the vendor interface. The first payload
	// byte of every report is a length prefix; the remainder is data,
	// zero-padded. The prefix is what turns the fixed-size report stream
	// back into an exact byte stream.
	hidReportSize = 64
	hidReportData = hidReportSize - 1

	// Unnumbered reports still need a leading zero report ID on write.
	hidReportID = 0
)

// ReportTransport adapts a HID device with length-prefixed fixed-size
// reports to the byte-oriented Transport contract.
type ReportTransport struct {
	dev    *hid.Device
	path   string
	sendMu sync.Mutex
	recvMu sync.Mutex

	// bytes received but not yet consumed by Receive
	pending []byte

	closed bool
	mu     sync.Mutex
}

// Open opens the controller endpoint at the given platform device path.
func Open(path string) (*ReportTransport, error) {
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open device %s", path)
	}
	logrus.WithField("path", path).Debug("opened HID transport")
	return &ReportTransport{dev: dev, path: path}, nil
}

// Path returns the platform device path this transport was opened from.
func (t *ReportTransport) Path() string {
	return t.path
}

func (t *ReportTransport) Send(p []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	report := make([]byte, hidReportSize+1)
	for len(p) > 0 {
		n := len(p)
		if n > hidReportData {
			n = hidReportData
		}
		report[0] = hidReportID
		report[1] = byte(n)
		copy(report[2:], p[:n])
		for i := 2 + n; i < len(report); i++ {
			report[i] = 0
		}
		written, err := t.dev.Write(report)
		if err != nil {
			return errors.Wrapf(err, "write to %s", t.path)
		}
		if written != len(report) {
			return errors.Errorf("short report write to %s: %d of %d bytes", t.path, written, len(report))
		}
		p = p[n:]
	}
	return nil
}

func (t *ReportTransport) Receive(p []byte, timeout time.Duration) (int, error) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	if len(t.pending) == 0 {
		report := make([]byte, hidReportSize)
		n, err := t.dev.ReadWithTimeout(report, timeout)
		if err != nil {
			return 0, translateReadError(err, t.path)
		}
		if n < 1 || int(report[0]) > n-1 {
			return 0, errors.Errorf("malformed report from %s: %d bytes, length prefix %d", t.path, n, report[0])
		}
		t.pending = append(t.pending, report[1:1+report[0]]...)
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// translateReadError maps a go-hid read error onto the Transport
// contract: a quiet poll comes back as hid.ErrTimeout and must surface
// as the ErrRecvTimeout sentinel so read loops keep polling; anything
// else is a transport failure.
func translateReadError(err error, path string) error {
	if errors.Is(err, hid.ErrTimeout) {
		return ErrRecvTimeout
	}
	return errors.Wrapf(err, "read from %s", path)
}

func (t *ReportTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.dev.Close()
}

// Enumerate lists controller endpoints matching the given vendor and
// product IDs. Zero matches any.
func Enumerate(vendorID, productID uint16) ([]Info, error) {
	var found []Info
	err := hid.Enumerate(vendorID, productID, func(info *hid.DeviceInfo) error {
		found = append(found, Info{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Serial:       info.SerialNbr,
			Product:      info.ProductStr,
			Manufacturer: info.MfrStr,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "HID enumeration failed")
	}
	return found, nil
}
