package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/pinforge/cabctl/pkg/transport"
)

func LsCmd() cli.Command {
	return cli.Command{
		Name:  "ls",
		Usage: "List attached feedback controllers",
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  "vendor-id",
				Value: DefaultVendorID,
			},
			cli.IntFlag{
				Name:  "product-id",
				Value: DefaultProductID,
			},
		},
		Action: func(c *cli.Context) {
			if err := lsDevices(c); err != nil {
				logrus.WithError(err).Fatal("Error listing devices")
			}
		},
	}
}

func lsDevices(c *cli.Context) error {
	found, err := transport.Enumerate(uint16(c.Int("vendor-id")), uint16(c.Int("product-id")))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tPRODUCT\tSERIAL")
	for _, info := range found {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Path, info.Product, info.Serial)
	}
	return w.Flush()
}
