package cmd

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pinforge/cabctl/pkg/devconn"
	"github.com/pinforge/cabctl/pkg/device"
)

func ConfigGetCmd() cli.Command {
	return cli.Command{
		Name:      "config-get",
		Usage:     "Download the stored configuration blob",
		ArgsUsage: "<output file>",
		Action: func(c *cli.Context) {
			if err := configGet(c); err != nil {
				logrus.WithError(err).Fatal("Error downloading configuration")
			}
		},
	}
}

func configGet(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("output file is required")
	}
	out := c.Args()[0]

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := s.Engine.GetConfig(nil)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Downloaded %s to %s\n", units.HumanSize(float64(len(data))), out)
	return nil
}

func ConfigPutCmd() cli.Command {
	return cli.Command{
		Name:      "config-put",
		Usage:     "Upload and commit a configuration blob",
		ArgsUsage: "<input file>",
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  "no-commit",
				Usage: "Upload without committing; use commit/revert later",
			},
		},
		Action: func(c *cli.Context) {
			if err := configPut(c); err != nil {
				logrus.WithError(err).Fatal("Error uploading configuration")
			}
		},
	}
}

func configPut(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("input file is required")
	}
	data, err := os.ReadFile(c.Args()[0])
	if err != nil {
		return err
	}

	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	pages := (len(data) + devconn.PageSize - 1) / devconn.PageSize
	bar := pb.StartNew(pages + 1)
	err = s.Engine.PutConfig(data, func(done, total int) {
		bar.SetCurrent(int64(done))
	})
	bar.Finish()
	if err != nil {
		return err
	}

	if !c.Bool("no-commit") {
		if err := s.Engine.CommitConfig(); err != nil {
			return err
		}
	}
	fmt.Printf("Uploaded %s in %d pages\n", units.HumanSize(float64(len(data))), pages)
	return nil
}

func EraseCmd() cli.Command {
	return cli.Command{
		Name:  "erase",
		Usage: "Erase the stored configuration blob",
		Action: func(c *cli.Context) {
			if err := withSession(c, func(s *device.Session) error { return s.Engine.EraseConfig() }); err != nil {
				logrus.WithError(err).Fatal("Error erasing configuration")
			}
		},
	}
}

func CommitCmd() cli.Command {
	return cli.Command{
		Name:  "commit",
		Usage: "Commit staged configuration changes",
		Action: func(c *cli.Context) {
			if err := withSession(c, func(s *device.Session) error { return s.Engine.CommitConfig() }); err != nil {
				logrus.WithError(err).Fatal("Error committing configuration")
			}
		},
	}
}

func RevertCmd() cli.Command {
	return cli.Command{
		Name:  "revert",
		Usage: "Revert staged configuration changes",
		Action: func(c *cli.Context) {
			if err := withSession(c, func(s *device.Session) error { return s.Engine.RevertConfig() }); err != nil {
				logrus.WithError(err).Fatal("Error reverting configuration")
			}
		},
	}
}
