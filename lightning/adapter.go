package lightning

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultInvoiceDescription = "mint quote"
	DefaultInvoiceExpiry      = time.Hour
	DefaultFeeReserveSats     = 1
)

type Config struct {
	Network            *chaincfg.Params
	InvoiceDescription string
	InvoiceExpiry      time.Duration

	// FeeReserveSats is reported as the fee of a payment whose node record
	// carries no fee. Zero means DefaultFeeReserveSats.
	FeeReserveSats uint64

	JITHint *JITHint
	Monitor MonitorConfig
}

type Option func(*Adapter)

func WithClock(clk clock.Clock) Option {
	return func(a *Adapter) {
		a.clock = clk
	}
}

// WithTicker overrides the ticker driving payment polls.
func WithTicker(newTicker func(time.Duration) ticker.Ticker) Option {
	return func(a *Adapter) {
		a.newTicker = newTicker
	}
}

func WithMetrics(m *Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// Adapter implements Backend on top of a Node. It keeps no state of its
// own beyond configuration, so it is safe for concurrent use.
type Adapter struct {
	node      Node
	cfg       Config
	log       *logrus.Logger
	clock     clock.Clock
	newTicker func(time.Duration) ticker.Ticker
	metrics   *Metrics

	issuer     *Issuer
	dispatcher *Dispatcher
	monitor    *Monitor
}

var _ Backend = (*Adapter)(nil)

func New(node Node, cfg Config, log *logrus.Logger, opts ...Option) (*Adapter, error) {
	if node == nil {
		return nil, errors.New("node is required")
	}
	if cfg.Network == nil {
		return nil, errors.New("network is required")
	}
	if cfg.InvoiceDescription == "" {
		cfg.InvoiceDescription = DefaultInvoiceDescription
	}
	if cfg.InvoiceExpiry <= 0 {
		cfg.InvoiceExpiry = DefaultInvoiceExpiry
	}
	if cfg.FeeReserveSats == 0 {
		cfg.FeeReserveSats = DefaultFeeReserveSats
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	a := &Adapter{
		node:  node,
		cfg:   cfg,
		log:   log,
		clock: clock.NewDefaultClock(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.issuer = NewIssuer(node, cfg.JITHint, log, a.metrics)
	a.dispatcher = NewDispatcher(node, a.clock, log)
	a.monitor = NewMonitor(node, cfg.Monitor, a.clock, a.newTicker, log, a.metrics)

	return a, nil
}

func (a *Adapter) DecodeInvoice(request string) (*DecodedInvoice, error) {
	return DecodeInvoice(request, a.cfg.Network)
}

func (a *Adapter) IsInvoicePaid(ctx context.Context, request string) (bool, error) {
	inv, err := a.DecodeInvoice(request)
	if err != nil {
		return false, err
	}

	outcome, err := a.monitor.CheckStatus(ctx, PaymentID(inv.PaymentHash))
	if err != nil {
		return false, err
	}

	return outcome == Paid, nil
}

func (a *Adapter) CreateInvoice(ctx context.Context, amountSats uint64) (*InvoiceReceipt, error) {
	receipt, err := a.issuer.CreateInvoice(
		ctx,
		amountSats,
		a.cfg.InvoiceDescription,
		a.cfg.InvoiceExpiry,
	)
	if err != nil {
		a.log.Errorf("[adapter] create invoice for %d sat: %v", amountSats, err)
		return nil, err
	}

	a.log.Infof("[adapter] created invoice %s for %d sat (jit=%t)", receipt.PaymentHash, amountSats, receipt.JIT)

	return receipt, nil
}

// PayInvoice pays request and blocks until the node settles or fails the
// payment. The returned error distinguishes ErrInvalidInvoice,
// ErrPaymentSubmissionFailed, ErrPaymentFailed and ErrPaymentPending.
func (a *Adapter) PayInvoice(ctx context.Context, request string) (*PayResult, error) {
	inv, err := a.DecodeInvoice(request)
	if err != nil {
		a.metrics.payment(resultInvalid)
		return nil, err
	}

	id, err := a.dispatcher.Send(ctx, inv)
	if err != nil {
		a.metrics.payment(resultRejected)
		a.log.Errorf("[adapter] submit payment %s: %v", inv.PaymentHash, err)
		return nil, err
	}

	outcome, rec, err := a.monitor.await(ctx, id)
	if err != nil {
		a.metrics.payment(resultPending)
		a.log.Warnf("[adapter] payment %s: %v", id, err)
		return nil, err
	}

	if outcome != Paid {
		a.metrics.payment(resultFailed)
		reason := errors.New("node reported failure")
		if rec == nil {
			reason = errors.New("node has no record of the payment")
		}
		return nil, newOpError(ErrPaymentFailed, "pay "+id.String(), reason)
	}

	a.metrics.payment(resultPaid)

	fees := a.cfg.FeeReserveSats
	if rec.FeeMsat > 0 {
		fees = uint64((rec.FeeMsat + 999) / 1000)
	}

	a.log.Infof("[adapter] paid invoice %s, fees %d sat", inv.PaymentHash, fees)

	return &PayResult{
		PaymentHash: inv.PaymentHash,
		TotalFees:   fees,
	}, nil
}

// InboundLiquidity reports the inbound capacity of the node's ready
// channels right now.
func (a *Adapter) InboundLiquidity(ctx context.Context) (lnwire.MilliSatoshi, error) {
	channels, err := a.node.ListChannels(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list channels")
	}
	return AvailableInbound(channels), nil
}
