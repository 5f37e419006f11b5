package cmd

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/pinforge/cabctl/pkg/device"
)

func OutputsCmd() cli.Command {
	return cli.Command{
		Name:  "outputs",
		Usage: "Drive outputs through the legacy 32-port surface",
		Subcommands: []cli.Command{
			{
				Name:      "banks",
				Usage:     "Set the all-ports on/off bitmask",
				ArgsUsage: "<bank0> <bank1> <bank2> <bank3>",
				Flags: []cli.Flag{
					cli.UintFlag{
						Name:  "pulse-speed",
						Value: 2,
					},
					cli.UintFlag{
						Name:  "unit",
						Value: 0,
					},
				},
				Action: func(c *cli.Context) {
					if err := setBanks(c); err != nil {
						logrus.WithError(err).Fatal("Error setting output banks")
					}
				},
			},
			{
				Name:      "profiles",
				Usage:     "Set per-port output profiles (up to 32 values, rest zero)",
				ArgsUsage: "<value>...",
				Flags: []cli.Flag{
					cli.UintFlag{
						Name:  "unit",
						Value: 0,
					},
				},
				Action: func(c *cli.Context) {
					if err := setProfiles(c); err != nil {
						logrus.WithError(err).Fatal("Error setting output profiles")
					}
				},
			},
		},
	}
}

// withRegistry runs fn against a registry holding the resolved device
// registered from unit 0 up. Closing the registry delivers everything
// queued before tearing the device down.
func withRegistry(c *cli.Context, fn func(*device.Registry) error) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	id, err := s.Engine.QueryIdentity()
	if err != nil {
		s.Close()
		return err
	}

	reg := device.NewRegistry(0)
	if _, err := reg.AddController(0, s.Engine, s.Path, int(id.PortCount)); err != nil {
		s.Close()
		return err
	}
	// The registry owns the engine now; the session lock still needs
	// releasing afterwards.
	defer s.ReleaseLock()

	err = fn(reg)
	if cerr := reg.Close(); err == nil {
		err = cerr
	}
	return err
}

func parseByteArgs(args []string, max int) ([]byte, error) {
	if len(args) > max {
		return nil, errors.Errorf("too many values: %d > %d", len(args), max)
	}
	out := make([]byte, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 0, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "bad byte value %q", a)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func setBanks(c *cli.Context) error {
	if c.NArg() != 4 {
		return errors.New("exactly four bank bitmask bytes are required")
	}
	vals, err := parseByteArgs(c.Args(), 4)
	if err != nil {
		return err
	}
	var banks [4]byte
	copy(banks[:], vals)

	return withRegistry(c, func(reg *device.Registry) error {
		_, err := reg.SetAllBanks(uint8(c.Uint("unit")), banks, byte(c.Uint("pulse-speed")))
		return err
	})
}

func setProfiles(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one profile value is required")
	}
	vals, err := parseByteArgs(c.Args(), device.LegacyPortCount)
	if err != nil {
		return err
	}
	var profiles [device.LegacyPortCount]byte
	copy(profiles[:], vals)

	return withRegistry(c, func(reg *device.Registry) error {
		_, err := reg.SetAllProfiles(uint8(c.Uint("unit")), profiles)
		return err
	})
}

func RawCmd() cli.Command {
	return cli.Command{
		Name:      "raw",
		Usage:     "Queue an opaque write to the controller",
		ArgsUsage: "<hex bytes>",
		Flags: []cli.Flag{
			cli.UintFlag{
				Name:  "unit",
				Value: 0,
			},
		},
		Action: func(c *cli.Context) {
			if err := rawWrite(c); err != nil {
				logrus.WithError(err).Fatal("Error writing raw command")
			}
		},
	}
}

func rawWrite(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("hex payload is required")
	}
	data, err := hex.DecodeString(strings.Join(c.Args(), ""))
	if err != nil {
		return errors.Wrap(err, "bad hex payload")
	}
	return withRegistry(c, func(reg *device.Registry) error {
		_, err := reg.RawWrite(uint8(c.Uint("unit")), data)
		return err
	})
}
