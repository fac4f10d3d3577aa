package main

import (
	"fmt"

	"github.com/statechannels/wallet/store/gormstore"
	"github.com/stellar/go/support/log"
	"github.com/urfave/cli/v2"
)

var cmdMigrate = &cli.Command{
	Name:  "migrate",
	Usage: "Create or update the tables of the wallet database",
	Flags: []cli.Flag{dbFlag},
	Action: func(cctx *cli.Context) error {
		dsn := cctx.String("db")
		if dsn == "" {
			return fmt.Errorf("--db required")
		}
		s, err := gormstore.Open(dsn, log.DefaultLogger)
		if err != nil {
			return err
		}
		defer s.Close()
		log.Info("database migrated")
		return nil
	},
}
