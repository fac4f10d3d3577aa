// Command walletd runs a state channel wallet as a service.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/stellar/go/support/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "walletd",
		Usage: "state channel wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				EnvVars: []string{"WALLETD_LOG_LEVEL"},
			},
		},
		Before: func(cctx *cli.Context) error {
			level, err := logrus.ParseLevel(cctx.String("log-level"))
			if err != nil {
				return err
			}
			log.DefaultLogger.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			cmdServe,
			cmdMigrate,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
