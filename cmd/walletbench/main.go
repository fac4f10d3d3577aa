// Command walletbench measures how fast two wallets in the same process
// advance channels between them.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/statechannels/wallet/agent"
	"github.com/statechannels/wallet/chain"
	"github.com/statechannels/wallet/channel"
	"github.com/statechannels/wallet/state"
	"github.com/statechannels/wallet/store"
	"github.com/statechannels/wallet/wallet"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/support/log"
	"github.com/urfave/cli/v2"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "walletbench",
		Usage: "benchmark channel updates between two in-process wallets",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "channels", Value: 10, Usage: "Number of channels updated concurrently"},
			&cli.IntFlag{Name: "updates", Value: 1000, Usage: "Number of updates per channel"},
			&cli.IntFlag{Name: "workers", Value: 4, Usage: "Number of workers per wallet"},
			&cli.StringFlag{Name: "cpuprofile", Usage: "Write cpu profile to `file`"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type participant struct {
	id     string
	signer *keypair.Full
	wallet *wallet.Wallet
}

func (p participant) participant() state.Participant {
	return state.Participant{
		ParticipantID:  p.id,
		SigningAddress: p.signer.Address(),
		Destination:    p.signer.Address(),
	}
}

func run(cctx *cli.Context) error {
	if file := cctx.String("cpuprofile"); file != "" {
		f, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("error creating cpu profile file: %w", err)
		}
		defer f.Close()
		err = pprof.StartCPUProfile(f)
		if err != nil {
			return fmt.Errorf("error starting cpu profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	log.DefaultLogger.SetLevel(logrus.WarnLevel)
	local := &wallet.Local{}
	funding := chain.NewMemory()
	newParticipant := func(id string) participant {
		p := participant{id: id, signer: keypair.MustRandom()}
		p.wallet = wallet.New(wallet.Config{
			ChainID:   network.TestNetworkPassphrase,
			Store:     store.NewMemory(),
			Signer:    p.signer,
			Depositor: &chain.Depositor{HoldingsCollector: funding, Submitter: funding},
			Funding:   funding,
			Sender:    local,
			Workers:   cctx.Int("workers"),
		})
		p.wallet.Start()
		local.Add(id, p.wallet)
		return p
	}
	alice := newParticipant("alice")
	defer alice.wallet.Close()
	bob := newParticipant("bob")
	defer bob.wallet.Close()

	ctx := context.Background()
	updates := cctx.Int("updates")
	sent := atomic.NewInt64(0)
	timeStarted := time.Now()

	g := errgroup.Group{}
	for i := 0; i < cctx.Int("channels"); i++ {
		nonce := uint64(i)
		g.Go(func() error {
			out, err := alice.wallet.CreateChannel(ctx, agent.CreateChannelParams{
				Participants:    []state.Participant{alice.participant(), bob.participant()},
				ChannelNonce:    nonce,
				Outcome:         state.Outcome{{Asset: state.NativeAsset}},
				FundingStrategy: channel.FundingStrategyFake,
			})
			if err != nil {
				return err
			}
			id := out.ChannelResults[0].ChannelID
			err = local.Deliver(ctx, out)
			if err != nil {
				return err
			}
			out, err = bob.wallet.JoinChannel(ctx, id)
			if err != nil {
				return err
			}
			err = local.Deliver(ctx, out)
			if err != nil {
				return err
			}

			// The first update after opening is alice's, and turns alternate.
			movers := []participant{alice, bob}
			for k := 0; k < updates; k++ {
				out, err = movers[k%2].wallet.UpdateChannel(ctx, agent.UpdateChannelParams{
					ChannelID: id,
					AppData:   []byte(fmt.Sprint(k)),
				})
				if err != nil {
					return fmt.Errorf("update %d of %s: %w", k, id, err)
				}
				err = local.Deliver(ctx, out)
				if err != nil {
					return err
				}
				sent.Inc()
			}

			out, err = alice.wallet.CloseChannel(ctx, id)
			if err != nil {
				return err
			}
			return local.Deliver(ctx, out)
		})
	}
	err := g.Wait()
	if err != nil {
		return err
	}
	timeSpent := time.Since(timeStarted)

	fmt.Fprintf(os.Stderr, "time spent: %v\n", timeSpent)
	fmt.Fprintf(os.Stderr, "updates sent: %d\n", sent.Load())
	fmt.Fprintf(os.Stderr, "updates tps: %.3f\n", float64(sent.Load())/timeSpent.Seconds())
	for _, p := range []participant{alice, bob} {
		s := p.wallet.Stats()
		fmt.Fprintf(os.Stderr, "%s: workers=%d completed=%d crashes=%d\n", p.id, s.Workers, s.Completed, s.Crashes)
	}
	return nil
}
