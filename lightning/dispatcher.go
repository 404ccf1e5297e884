package lightning

import (
	"context"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Dispatcher hands outbound payments to the node. Every call is a new
// attempt; deduplication is left to the node.
type Dispatcher struct {
	node  Node
	clock clock.Clock
	log   *logrus.Logger
}

func NewDispatcher(node Node, clk clock.Clock, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		node:  node,
		clock: clk,
		log:   log,
	}
}

func (d *Dispatcher) Send(ctx context.Context, invoice *DecodedInvoice) (PaymentID, error) {
	if invoice.Amount == nil {
		return PaymentID{}, newOpError(ErrPaymentSubmissionFailed, "validate", errors.New("amountless invoices are not supported"))
	}
	if invoice.IsExpired(d.clock.Now()) {
		return PaymentID{}, newOpError(
			ErrPaymentSubmissionFailed,
			"validate",
			errors.Errorf("invoice expired at %s", invoice.ExpiresAt()),
		)
	}

	id, err := d.node.Send(ctx, invoice)
	if err != nil {
		return PaymentID{}, newOpError(ErrPaymentSubmissionFailed, "send", err)
	}

	d.log.Debugf("[dispatcher] submitted payment %s for %d msat", id, *invoice.Amount)

	return id, nil
}
