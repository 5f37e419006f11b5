package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/pinforge/cabctl/app/cmd"
	"github.com/pinforge/cabctl/meta"
)

func main() {
	a := cli.NewApp()
	a.Name = "cabctl"
	a.Usage = "host-side client for cabinet feedback controllers"
	a.Version = meta.Version
	a.Before = func(c *cli.Context) error {
		if c.GlobalBool("debug") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	}
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "device",
			Usage: "Platform device path; defaults to the sole attached controller",
		},
		cli.BoolFlag{
			Name: "debug",
		},
	}
	a.Commands = []cli.Command{
		cmd.LsCmd(),
		cmd.InfoCmd(),
		cmd.StatusCmd(),
		cmd.PingCmd(),
		cmd.ConfigGetCmd(),
		cmd.ConfigPutCmd(),
		cmd.EraseCmd(),
		cmd.CommitCmd(),
		cmd.RevertCmd(),
		cmd.OutputsCmd(),
		cmd.RawCmd(),
		cmd.VersionCmd(),
	}
	if err := a.Run(os.Args); err != nil {
		logrus.Fatal("Error when executing command: ", err)
	}
}
