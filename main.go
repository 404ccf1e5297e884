package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/go-mintln/lightning"
	"github.com/sebdeveloper6952/go-mintln/lightning/lnbits"
	"github.com/sebdeveloper6952/go-mintln/lightning/lnd"
	"github.com/sebdeveloper6952/go-mintln/lightning/memory"
)

// mintlnMain is the real entry point; defers don't run in main when
// os.Exit is called.
func mintlnMain() error {
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil
	} else if err != nil {
		return errors.Errorf("failed parsing arguments: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logger.SetLevel(level)

	adapterCfg, err := cfg.adapterConfig()
	if err != nil {
		return err
	}

	var node lightning.Node
	switch cfg.Node {
	case nodeLnd:
		tlsBytes, err := os.ReadFile(cfg.Lnd.TLSPath)
		if err != nil {
			return errors.Wrap(err, "read lnd tls cert")
		}

		lndNode, err := lnd.New(&lnd.Config{
			Address:        cfg.Lnd.Address,
			MacaroonHex:    cfg.Lnd.MacaroonHex,
			TLSData:        string(tlsBytes),
			Network:        lndclient.Network(cfg.Network),
			MaxFeeSats:     btcutil.Amount(cfg.Lnd.MaxFeeSats),
			PaymentTimeout: cfg.Lnd.PayTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer lndNode.Close()

		node = lndNode
	case nodeLNbits:
		node, err = lnbits.New(&lnbits.Config{
			URL:         cfg.LNbits.URL,
			InvoiceKey:  cfg.LNbits.InvoiceKey,
			AdminKey:    cfg.LNbits.AdminKey,
			Network:     adapterCfg.Network,
			InboundMsat: lnwire.NewMSatFromSatoshis(btcutil.Amount(cfg.LNbits.InboundSats)),
		}, logger)
		if err != nil {
			return err
		}
	case nodeMemory:
		memNode, err := memory.New(&memory.Config{
			Network:    adapterCfg.Network,
			AutoSettle: cfg.Memory.AutoSettle,
		}, logger)
		if err != nil {
			return err
		}
		defer memNode.Stop()

		if cfg.Memory.Inbound > 0 {
			memNode.AddChannel(1, true, lnwire.NewMSatFromSatoshis(btcutil.Amount(cfg.Memory.Inbound)))
		}

		logger.Warn("[main] using the in-memory node, payments are simulated")
		node = memNode
	default:
		return errors.Errorf("unknown node type %v", cfg.Node)
	}

	adapter, err := lightning.New(
		node,
		adapterCfg,
		logger,
		lightning.WithMetrics(lightning.NewMetrics(prometheus.DefaultRegisterer)),
	)
	if err != nil {
		return err
	}

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	inbound, err := adapter.InboundLiquidity(ctx)
	if err != nil {
		logger.Warnf("[main] could not read channels: %v", err)
	} else {
		logger.Infof("[main] %s node ready on %s with %d sats inbound", cfg.Node, cfg.Network, inbound.ToSatoshis())
	}
	if adapterCfg.JITHint == nil {
		logger.Info("[main] no liquidity provider configured, invoices without inbound liquidity will fail")
	}

	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsListen, Handler: mux}

		go func() {
			logger.Infof("[main] serving metrics on %s", cfg.MetricsListen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("[main] metrics server: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigChan:
		logger.Infof("[main] received %v, shutting down", sig)
	case <-ctx.Done():
	}

	return nil
}

func main() {
	if err := mintlnMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
