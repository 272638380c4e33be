package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/darwayne/errutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mimblenet/walletcore/internal/config"
	"github.com/mimblenet/walletcore/internal/core/node"
	"github.com/mimblenet/walletcore/internal/core/reactor"
	"github.com/mimblenet/walletcore/internal/core/stratum"
	"github.com/mimblenet/walletcore/internal/core/wallet"
	"github.com/mimblenet/walletcore/internal/core/wallet/walletdb"
	"github.com/mimblenet/walletcore/pkg/mwcrypto"
	"github.com/mimblenet/walletcore/pkg/sigutil"
)

func main() {
	configPath := flag.String("config", "walletd.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	seed, err := mwcrypto.SeedFromMnemonic(cfg.Wallet.Mnemonic, cfg.Wallet.Passphrase)
	if err != nil {
		logger.Fatal("bad mnemonic", zap.Error(err))
	}

	store, err := walletdb.Open(cfg.Wallet.Dir, mwcrypto.NewKdf(seed), logger.Named("db"))
	if err != nil {
		logger.Fatal("cannot open wallet store", zap.Error(err))
	}
	defer store.Close()

	// first run: tuck the seed into the store's vault so the mnemonic can be
	// dropped from the config afterwards
	if _, err := store.LoadMasterSeed(cfg.Wallet.Passphrase); errutil.IsNotFound(err) {
		if err := store.SaveMasterSeed(seed, cfg.Wallet.Passphrase); err != nil {
			logger.Fatal("cannot store master seed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigutil.Done()
		logger.Info("shutting down")
		cancel()
	}()

	r := reactor.New(logger)
	cli := node.NewClient(cfg.Node.RestAddr, logger, func(o *node.ClientOpts) {
		o.Timeout = cfg.Node.Timeout
	})
	peers := &nodePeers{cli: cli, log: logger.Named("peers")}
	w := wallet.New(r, store, cli, peers, logger)

	tips := node.NewTipMonitor(cfg.Node.ZmqAddr, logger)
	bbs := node.NewBbsMonitor(cfg.Node.ZmqAddr, logger)
	tipCh := tips.Subscribe()
	bbsCh := bbs.Subscribe()

	var srv *stratum.Server
	if cfg.Stratum.Enabled {
		srv = stratum.NewServer(stratum.Options{
			ListenAddr:  cfg.Stratum.ListenAddr,
			CertFile:    cfg.Stratum.CertFile,
			KeyFile:     cfg.Stratum.KeyFile,
			APIKeysFile: cfg.Stratum.APIKeysFile,
		}, r, logger)
	}

	r.Post(func() {
		w.Resume()
	})
	go func() {
		callCtx, callCancel := context.WithTimeout(ctx, cfg.Node.Timeout)
		defer callCancel()
		tip, err := cli.GetTip(callCtx)
		if err != nil {
			logger.Warn("initial tip fetch failed", zap.Error(err))
			return
		}
		r.Post(func() { onTip(w, srv, logger, tip) })
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(ctx) })
	g.Go(func() error { return tips.Start(ctx) })
	g.Go(func() error { return bbs.Start(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case tip := <-tipCh:
				r.Post(func() { onTip(w, srv, logger, tip) })
			}
		}
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg := <-bbsCh:
				params, err := wallet.DecodeTxParamsMsg(msg.Payload)
				if err != nil {
					logger.Warn("undecodable peer message", zap.Error(err))
					continue
				}
				to := msg.To
				r.Post(func() { w.OnTransactionMsg(to, params) })
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("walletd stopped", zap.Error(err))
	}
	if srv != nil {
		srv.Stop()
	}
}

// onTip feeds the new tip into the wallet and, when mining is enabled, hands
// miners a fresh job on top of it.
func onTip(w *wallet.Wallet, srv *stratum.Server, log *zap.Logger, tip wallet.BlockStateID) {
	w.OnTipChanged(tip)
	if srv == nil {
		return
	}
	height := uint64(tip.Height) + 1
	jobID := fmt.Sprintf("%d", height)
	err := srv.NewJob(jobID, tip.Hash, nil, height, func() {
		id, nonce, output := srv.LastFoundBlock()
		hash := chainhash.HashH([]byte(nonce + output))
		log.Info("block found",
			zap.String("job", id),
			zap.String("nonce", nonce),
			zap.Stringer("hash", hash))
		srv.SolutionResult(id, true, hash, height)
	}, nil)
	if err != nil {
		log.Error("cannot publish job", zap.Error(err))
	}
}

func buildLogger(cfg config.Log) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	return zcfg.Build()
}

// nodePeers delivers negotiation messages through the node's bulletin board.
type nodePeers struct {
	cli *node.Client
	log *zap.Logger
}

func (p *nodePeers) SendTxParams(to wallet.WalletID, msg wallet.SetTxParameterMsg) {
	payload, err := wallet.EncodeTxParamsMsg(msg)
	if err != nil {
		p.log.Error("cannot encode peer message", zap.Error(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.cli.SendBbsMsg(ctx, to, payload); err != nil {
			p.log.Warn("cannot deliver peer message",
				zap.Stringer("to", to), zap.Error(err))
		}
	}()
}
