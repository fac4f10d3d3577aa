package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/statechannels/wallet/agent"
	"github.com/statechannels/wallet/chain"
	"github.com/statechannels/wallet/chain/horizon"
	"github.com/statechannels/wallet/dispatch"
	"github.com/statechannels/wallet/notify"
	"github.com/statechannels/wallet/store"
	"github.com/statechannels/wallet/store/gormstore"
	"github.com/statechannels/wallet/wallet"
	"github.com/statechannels/wallet/wallet/wallethttp"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/support/log"
	"github.com/stellar/go/txnbuild"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
)

var dbFlag = &cli.StringFlag{
	Name:    "db",
	Usage:   "MySQL DSN, e.g. root:123456@tcp(127.0.0.1:3306)/wallet?parseTime=true. Channels are kept in memory if unset",
	EnvVars: []string{"WALLETD_DB"},
}

var cmdServe = &cli.Command{
	Name:  "serve",
	Usage: "Serve the wallet over HTTP",
	Flags: []cli.Flag{
		dbFlag,
		&cli.StringFlag{
			Name:     "signer",
			Usage:    "S... seed of the key the wallet signs states with, and funds deposits from",
			EnvVars:  []string{"WALLETD_SIGNER"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "horizon",
			Usage:   "Horizon URL. Deposits are made on an in-memory chain if unset",
			EnvVars: []string{"WALLETD_HORIZON"},
		},
		&cli.StringFlag{
			Name:    "fee-account",
			Usage:   "S... seed of an account that pays the fees of deposits",
			EnvVars: []string{"WALLETD_FEE_ACCOUNT"},
		},
		&cli.StringFlag{
			Name:    "chain-id",
			Usage:   "Chain identifier used without --horizon",
			Value:   network.TestNetworkPassphrase,
			EnvVars: []string{"WALLETD_CHAIN_ID"},
		},
		&cli.StringFlag{
			Name:    "redis",
			Usage:   "Redis address to publish channel updates to, e.g. 127.0.0.1:6379",
			EnvVars: []string{"WALLETD_REDIS"},
		},
		&cli.StringFlag{
			Name:    "redis-channel",
			Value:   notify.DefaultChannel,
			EnvVars: []string{"WALLETD_REDIS_CHANNEL"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Number of workers running operations. 0 runs them on the caller",
			Value:   4,
			EnvVars: []string{"WALLETD_WORKERS"},
		},
		&cli.StringFlag{
			Name:    "listen",
			Value:   ":8080",
			EnvVars: []string{"WALLETD_LISTEN"},
		},
		&cli.StringSliceFlag{
			Name:    "peer",
			Usage:   "Participant and URL of its wallet, as id=url",
			EnvVars: []string{"WALLETD_PEERS"},
		},
		&cli.DurationFlag{
			Name:  "metrics-period",
			Usage: "How often operation metrics are logged at debug level",
			Value: time.Minute,
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		l := log.DefaultLogger.WithField("service", "walletd")

		signer, err := keypair.ParseFull(cctx.String("signer"))
		if err != nil {
			return fmt.Errorf("cannot parse --signer: %w", err)
		}
		l = l.WithField("signer", signer.Address())

		var st store.Store
		if dsn := cctx.String("db"); dsn != "" {
			gs, err := gormstore.Open(dsn, l.WithField("component", "db"))
			if err != nil {
				return err
			}
			defer gs.Close()
			st = gs
		} else {
			l.Warn("no --db, channels are kept in memory")
			st = store.NewMemory()
		}

		c := wallet.Config{
			Store:   st,
			Signer:  signer,
			Workers: cctx.Int("workers"),
			Logger:  l,
		}
		if url := cctx.String("horizon"); url != "" {
			client := &horizonclient.Client{HorizonURL: url}
			root, err := client.Root()
			if err != nil {
				return fmt.Errorf("getting horizon root: %w", err)
			}
			hc := &horizon.Chain{
				HorizonClient:     client,
				NetworkPassphrase: root.NetworkPassphrase,
				BaseFee:           txnbuild.MinBaseFee,
				Funder:            signer,
				Logger:            l.WithField("component", "horizon"),
			}
			if seed := cctx.String("fee-account"); seed != "" {
				hc.FeeAccount, err = keypair.ParseFull(seed)
				if err != nil {
					return fmt.Errorf("cannot parse --fee-account: %w", err)
				}
			}
			c.ChainID = root.NetworkPassphrase
			c.Depositor = &chain.Depositor{HoldingsCollector: hc, Submitter: hc, Logger: hc.Logger}
			c.Watcher = hc
			c.Funding = hc
		} else {
			l.Warn("no --horizon, deposits are made on an in-memory chain")
			mc := chain.NewMemory()
			c.ChainID = cctx.String("chain-id")
			c.Depositor = &chain.Depositor{HoldingsCollector: mc, Submitter: mc, Logger: l}
			c.Funding = mc
		}

		if addr := cctx.String("redis"); addr != "" {
			rds := redis.NewClient(&redis.Options{Addr: addr})
			defer rds.Close()
			pong, err := rds.Ping(ctx).Result()
			if err != nil {
				return fmt.Errorf("pinging redis: %w", err)
			}
			l.WithField("response", pong).Info("redis connected")
			c.Publisher = &notify.Publisher{
				Client:  rds,
				Channel: cctx.String("redis-channel"),
				Logger:  l.WithField("component", "notify"),
			}
		}

		sender := &wallethttp.Client{HTTP: &http.Client{Timeout: 30 * time.Second}}
		for _, p := range cctx.StringSlice("peer") {
			id, url, ok := strings.Cut(p, "=")
			if !ok || id == "" || url == "" {
				return fmt.Errorf("invalid --peer %q, expected id=url", p)
			}
			sender.AddPeer(id, url)
		}
		c.Sender = sender

		events := make(chan agent.Event, 16)
		c.Events = events
		go logEvents(l, events)

		err = view.Register(dispatch.DefaultViews...)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		view.RegisterExporter(logExporter{l: l.WithField("component", "metrics")})
		view.SetReportingPeriod(cctx.Duration("metrics-period"))

		w := wallet.New(c)
		w.Start()
		defer w.Close()

		srv := &http.Server{
			Addr:              cctx.String("listen"),
			Handler:           wallethttp.New(w, l.WithField("component", "http")),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errs := make(chan error, 1)
		go func() {
			l.WithField("addr", srv.Addr).Info("serving")
			errs <- srv.ListenAndServe()
		}()

		select {
		case err := <-errs:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}
		l.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// logEvents drains the events of the wallet until the process exits, so
// the wallet never blocks forwarding them.
func logEvents(l *log.Entry, events <-chan agent.Event) {
	for e := range events {
		switch e := e.(type) {
		case agent.ObjectiveSucceededEvent:
			l.WithFields(log.F{"objective": e.Objective.ID, "type": e.Objective.Type}).Info("objective succeeded")
		case agent.ChannelUpdatedEvent:
			l.WithFields(log.F{
				"channel": e.ChannelResult.ChannelID.String(),
				"turn":    e.ChannelResult.TurnNum,
				"status":  e.ChannelResult.Status,
			}).Debug("channel updated")
		}
	}
}

type logExporter struct {
	l *log.Entry
}

func (e logExporter) ExportView(vd *view.Data) {
	for _, row := range vd.Rows {
		f := log.F{"view": vd.View.Name}
		for _, t := range row.Tags {
			f[t.Key.Name()] = t.Value
		}
		switch d := row.Data.(type) {
		case *view.DistributionData:
			f["count"] = d.Count
			f["mean_ms"] = d.Mean
			f["max_ms"] = d.Max
		case *view.CountData:
			f["count"] = d.Value
		}
		e.l.WithFields(f).Debug("metrics")
	}
}
