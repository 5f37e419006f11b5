package cmd

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func InfoCmd() cli.Command {
	return cli.Command{
		Name:  "info",
		Usage: "Query controller identity",
		Action: func(c *cli.Context) {
			if err := showInfo(c); err != nil {
				logrus.WithError(err).Fatal("Error querying identity")
			}
		},
	}
}

func showInfo(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.Engine.QueryIdentity()
	if err != nil {
		return err
	}
	fmt.Printf("Unit:             %d\n", id.UnitNumber)
	fmt.Printf("Ports:            %d\n", id.PortCount)
	fmt.Printf("Protocol version: %d\n", id.ProtocolVersion)
	fmt.Printf("Hardware ID:      %016x\n", id.HardwareID)
	return nil
}

func StatusCmd() cli.Command {
	return cli.Command{
		Name:  "status",
		Usage: "Query controller status",
		Action: func(c *cli.Context) {
			if err := showStatus(c); err != nil {
				logrus.WithError(err).Fatal("Error querying status")
			}
		},
	}
}

func showStatus(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.Engine.QueryStatus()
	if err != nil {
		return err
	}
	fmt.Printf("Uptime:        %v\n", st.Uptime)
	fmt.Printf("Config loaded: %v\n", st.ConfigLoaded)
	fmt.Printf("Config size:   %s\n", units.HumanSize(float64(st.ConfigSize)))
	fmt.Printf("Last error:    0x%04x\n", st.LastError)
	return nil
}

func PingCmd() cli.Command {
	return cli.Command{
		Name:  "ping",
		Usage: "Round-trip a no-op command",
		Action: func(c *cli.Context) {
			if err := pingDevice(c); err != nil {
				logrus.WithError(err).Fatal("Error pinging device")
			}
		},
	}
}

func pingDevice(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Engine.Ping(); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}
