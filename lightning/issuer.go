package lightning

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Issuer creates invoices, asking the node for a just-in-time channel when
// the ready channels lack the inbound capacity for the amount.
type Issuer struct {
	node    Node
	hint    *JITHint
	log     *logrus.Logger
	metrics *Metrics
}

func NewIssuer(node Node, hint *JITHint, log *logrus.Logger, metrics *Metrics) *Issuer {
	return &Issuer{
		node:    node,
		hint:    hint,
		log:     log,
		metrics: metrics,
	}
}

func (i *Issuer) CreateInvoice(
	ctx context.Context,
	amountSats uint64,
	description string,
	expiry time.Duration,
) (*InvoiceReceipt, error) {
	if amountSats == 0 {
		i.metrics.invoiceFailed()
		return nil, newOpError(ErrInvoiceCreationFailed, "validate", errors.New("amount must be positive"))
	}
	if amountSats > uint64(btcutil.MaxSatoshi) {
		i.metrics.invoiceFailed()
		return nil, newOpError(ErrInvoiceCreationFailed, "validate", errors.Errorf("amount %d exceeds max supply", amountSats))
	}
	amount := lnwire.MilliSatoshi(amountSats * 1000)

	channels, err := i.node.ListChannels(ctx)
	if err != nil {
		i.metrics.invoiceFailed()
		return nil, newOpError(ErrInvoiceCreationFailed, "list channels", err)
	}

	inbound := AvailableInbound(channels)
	strategy := strategyDirect
	if inbound < amount {
		strategy = strategyJIT
	}

	i.log.Debugf(
		"[issuer] %d msat requested, %d msat inbound across %d channels, using %s",
		amount,
		inbound,
		len(channels),
		strategy,
	)

	var inv *DecodedInvoice
	if strategy == strategyDirect {
		inv, err = i.node.Receive(ctx, amount, description, expiry)
	} else {
		inv, err = i.node.ReceiveViaJITChannel(ctx, amount, description, expiry, i.hint)
	}
	if err != nil {
		i.metrics.invoiceFailed()
		return nil, newOpError(ErrInvoiceCreationFailed, strategy+" receive", err)
	}

	i.metrics.invoiceCreated(strategy)

	return &InvoiceReceipt{
		PaymentHash:    inv.PaymentHash,
		PaymentRequest: inv.String(),
		JIT:            strategy == strategyJIT,
	}, nil
}
