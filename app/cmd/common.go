package cmd

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/pinforge/cabctl/pkg/device"
	"github.com/pinforge/cabctl/pkg/transport"
)

const (
	// pid.codes vendor ID used by the open-hardware controller firmware
	DefaultVendorID  = 0x1209
	DefaultProductID = 0xEAEB
)

// resolveDevicePath picks the target device: the --device global flag if
// set, otherwise the sole enumerated controller. With several attached,
// the caller has to choose.
func resolveDevicePath(c *cli.Context) (string, error) {
	if path := c.GlobalString("device"); path != "" {
		return path, nil
	}
	found, err := transport.Enumerate(DefaultVendorID, DefaultProductID)
	if err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", errors.New("no controller found; is the device attached?")
	case 1:
		return found[0].Path, nil
	default:
		return "", errors.Errorf("%d controllers attached, pick one with --device", len(found))
	}
}

func openSession(c *cli.Context) (*device.Session, error) {
	path, err := resolveDevicePath(c)
	if err != nil {
		return nil, err
	}
	return device.Open(path)
}

func withSession(c *cli.Context, fn func(*device.Session) error) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
