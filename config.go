package main

import (
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/go-mintln/lightning"
)

const (
	nodeLnd    = "lnd"
	nodeMemory = "memory"
	nodeLNbits = "lnbits"

	// pollTimeoutMargin is added to lnd's payment timeout when no poll
	// timeout is configured.
	pollTimeoutMargin = 30 * time.Second
)

type lndConfig struct {
	Address     string        `long:"address" env:"LND_ADDR" description:"host:port of the lnd gRPC interface"`
	MacaroonHex string        `long:"macaroonhex" env:"LND_MAC_HEX" description:"hex encoded admin macaroon"`
	TLSPath     string        `long:"tlspath" env:"LND_TLS_PATH" description:"path to lnd's tls.cert"`
	MaxFeeSats  int64         `long:"maxfee" env:"LND_MAX_FEE_SATS" default:"100" description:"maximum routing fee in satoshis"`
	PayTimeout  time.Duration `long:"paytimeout" env:"LND_PAY_TIMEOUT" default:"1m" description:"how long lnd keeps trying routes"`
}

type memoryConfig struct {
	AutoSettle time.Duration `long:"autosettle" env:"MEMORY_AUTO_SETTLE" description:"settle invoices and payments after this long"`
	Inbound    uint64        `long:"inbound" env:"MEMORY_INBOUND_SATS" description:"inbound liquidity of the single simulated channel"`
}

type lnbitsConfig struct {
	URL         string `long:"url" env:"LNBITS_URL" description:"base url of the LNbits instance"`
	InvoiceKey  string `long:"invoicekey" env:"LNBITS_INVOICE_KEY" description:"wallet invoice/read key"`
	AdminKey    string `long:"adminkey" env:"LNBITS_ADMIN_KEY" description:"wallet admin key, needed to pay invoices"`
	InboundSats uint64 `long:"inbound" env:"LNBITS_INBOUND_SATS" default:"100000000" description:"inbound liquidity to assume for the wallet"`
}

type jitConfig struct {
	NodeID          string `long:"nodeid" env:"JIT_NODE_ID" description:"hex encoded public key of the liquidity provider"`
	ChannelID       uint64 `long:"channelid" env:"JIT_CHANNEL_ID" description:"short channel id advertised in the route hint"`
	FeeBaseMsat     uint32 `long:"feebase" env:"JIT_FEE_BASE_MSAT" description:"base fee of the hinted hop"`
	FeeProportional uint32 `long:"feeppm" env:"JIT_FEE_PPM" description:"proportional fee of the hinted hop"`
	CLTVExpiryDelta uint16 `long:"cltvdelta" env:"JIT_CLTV_DELTA" default:"144" description:"cltv expiry delta of the hinted hop"`
}

type monitorConfig struct {
	PollInterval time.Duration `long:"interval" env:"POLL_INTERVAL" default:"100ms" description:"delay between payment status polls"`
	MaxPolls     uint          `long:"maxpolls" env:"POLL_MAX" description:"stop waiting after this many polls, 0 for no limit"`
	Timeout      time.Duration `long:"timeout" env:"POLL_TIMEOUT" description:"stop waiting after this long, defaults to lnd.paytimeout plus 30s"`
}

type config struct {
	Network  string `long:"network" env:"NETWORK" default:"regtest" description:"bitcoin network" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet" choice:"signet"`
	Node     string `long:"node" env:"NODE" default:"lnd" description:"lightning node implementation" choice:"lnd" choice:"lnbits" choice:"memory"`
	LogLevel string `long:"loglevel" env:"LOG_LEVEL" default:"info" description:"trace, debug, info, warn or error"`

	MetricsListen string `long:"metrics.listen" env:"METRICS_LISTEN" default:"localhost:9090" description:"address of the prometheus endpoint, empty to disable"`

	InvoiceDescription string        `long:"description" env:"INVOICE_DESCRIPTION" default:"mint quote" description:"description attached to mint invoices"`
	InvoiceExpiry      time.Duration `long:"expiry" env:"INVOICE_EXPIRY" default:"1h" description:"expiry of mint invoices"`
	FeeReserveSats     uint64        `long:"feereserve" env:"FEE_RESERVE_SATS" default:"1" description:"fee reported when the node reports none"`

	Lnd     lndConfig     `group:"lnd" namespace:"lnd"`
	LNbits  lnbitsConfig  `group:"lnbits" namespace:"lnbits"`
	Memory  memoryConfig  `group:"memory" namespace:"memory"`
	JIT     jitConfig     `group:"jit" namespace:"jit"`
	Monitor monitorConfig `group:"poll" namespace:"poll"`
}

func loadConfig() (*config, error) {
	return parseArgs(nil)
}

// parseArgs parses the given arguments, or the process arguments when args
// is nil, on top of the environment and defaults.
func parseArgs(args []string) (*config, error) {
	cfg := &config{}
	parser := flags.NewParser(cfg, flags.Default)

	var err error
	if args == nil {
		_, err = parser.Parse()
	} else {
		_, err = parser.ParseArgs(args)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *config) validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.Node == nodeLnd {
		if c.Lnd.Address == "" {
			return errors.New("lnd.address is required")
		}
		if c.Lnd.TLSPath == "" {
			return errors.New("lnd.tlspath is required")
		}
		if c.Lnd.MacaroonHex == "" {
			return errors.New("lnd.macaroonhex is required")
		}
	}

	if c.Node == nodeLNbits && (c.LNbits.URL == "" || c.LNbits.InvoiceKey == "") {
		return errors.New("lnbits.url and lnbits.invoicekey are required")
	}

	if c.Monitor.Timeout < 0 {
		return errors.New("poll.timeout must not be negative")
	}

	if c.InvoiceExpiry <= 0 {
		return errors.New("expiry must be positive")
	}

	if _, err := c.jitHint(); err != nil {
		return err
	}

	return nil
}

// jitHint returns nil when no liquidity provider is configured.
func (c *config) jitHint() (*lightning.JITHint, error) {
	if c.JIT.NodeID == "" {
		return nil, nil
	}

	raw, err := hex.DecodeString(c.JIT.NodeID)
	if err != nil {
		return nil, errors.Wrap(err, "jit.nodeid")
	}
	key, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, errors.Wrap(err, "jit.nodeid")
	}

	return &lightning.JITHint{
		NodeID:                    key,
		ChannelID:                 c.JIT.ChannelID,
		FeeBaseMsat:               c.JIT.FeeBaseMsat,
		FeeProportionalMillionths: c.JIT.FeeProportional,
		CLTVExpiryDelta:           c.JIT.CLTVExpiryDelta,
	}, nil
}

func (c *config) adapterConfig() (lightning.Config, error) {
	net, err := lightning.ChainParams(c.Network)
	if err != nil {
		return lightning.Config{}, err
	}

	hint, err := c.jitHint()
	if err != nil {
		return lightning.Config{}, err
	}

	return lightning.Config{
		Network:            net,
		InvoiceDescription: c.InvoiceDescription,
		InvoiceExpiry:      c.InvoiceExpiry,
		FeeReserveSats:     c.FeeReserveSats,
		JITHint:            hint,
		Monitor: lightning.MonitorConfig{
			PollInterval: c.Monitor.PollInterval,
			MaxPolls:     c.Monitor.MaxPolls,
			Timeout:      c.pollTimeout(),
		},
	}, nil
}

func (c *config) pollTimeout() time.Duration {
	if c.Monitor.Timeout > 0 {
		return c.Monitor.Timeout
	}
	return c.Lnd.PayTimeout + pollTimeoutMargin
}
