package lightning

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultPollTimeout  = 2 * time.Minute
)

type PaymentOutcome int

const (
	NotPaid PaymentOutcome = iota
	Paid
	Failed
)

var PaymentOutcomeToString = map[PaymentOutcome]string{
	NotPaid: "not-paid",
	Paid:    "paid",
	Failed:  "failed",
}

func (o PaymentOutcome) String() string {
	return PaymentOutcomeToString[o]
}

type MonitorConfig struct {
	// PollInterval is the delay between status lookups.
	PollInterval time.Duration

	// MaxPolls bounds the number of lookups per wait, zero means unbounded.
	MaxPolls uint

	// Timeout bounds the total wait, zero means DefaultPollTimeout.
	Timeout time.Duration
}

// Monitor observes payment state held by the node.
type Monitor struct {
	node      Node
	cfg       MonitorConfig
	clock     clock.Clock
	newTicker func(time.Duration) ticker.Ticker
	log       *logrus.Logger
	metrics   *Metrics
}

func NewMonitor(
	node Node,
	cfg MonitorConfig,
	clk clock.Clock,
	newTicker func(time.Duration) ticker.Ticker,
	log *logrus.Logger,
	metrics *Metrics,
) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPollTimeout
	}
	if newTicker == nil {
		newTicker = func(interval time.Duration) ticker.Ticker {
			return ticker.New(interval)
		}
	}

	return &Monitor{
		node:      node,
		cfg:       cfg,
		clock:     clk,
		newTicker: newTicker,
		log:       log,
		metrics:   metrics,
	}
}

// CheckStatus reports Paid only once the node has settled the payment.
// Pending, failed and unknown payments are all NotPaid.
func (m *Monitor) CheckStatus(ctx context.Context, id PaymentID) (PaymentOutcome, error) {
	rec, err := m.node.Payment(ctx, id)
	if err != nil {
		return NotPaid, errors.Wrapf(err, "lookup payment %s", id)
	}
	if rec == nil {
		m.log.Tracef("[monitor] payment %s not found", id)
		return NotPaid, nil
	}

	m.log.Tracef("[monitor] payment %s is %s", id, rec.Status)

	if rec.Status == PaymentSucceeded {
		return Paid, nil
	}
	return NotPaid, nil
}

// AwaitCompletion polls the node until the payment succeeds or fails. A
// payment the node has no record of counts as Failed. Running out of polls,
// hitting the timeout or cancelling ctx yields ErrPaymentPending.
func (m *Monitor) AwaitCompletion(ctx context.Context, id PaymentID) (PaymentOutcome, error) {
	outcome, _, err := m.await(ctx, id)
	return outcome, err
}

func (m *Monitor) await(ctx context.Context, id PaymentID) (PaymentOutcome, *PaymentRecord, error) {
	deadline := m.clock.TickAfter(m.cfg.Timeout)

	t := m.newTicker(m.cfg.PollInterval)
	t.Resume()
	defer t.Stop()

	var polls uint
	for {
		polls++

		rec, err := m.node.Payment(ctx, id)
		switch {
		case err != nil:
			m.log.Warnf("[monitor] lookup payment %s (poll %d): %v", id, polls, err)

		case rec == nil:
			m.log.Debugf("[monitor] payment %s not found after %d polls", id, polls)
			m.metrics.polls(polls)
			return Failed, nil, nil

		default:
			m.log.Tracef("[monitor] payment %s is %s (poll %d)", id, rec.Status, polls)

			switch rec.Status {
			case PaymentSucceeded:
				m.metrics.polls(polls)
				return Paid, rec, nil
			case PaymentFailed:
				m.metrics.polls(polls)
				return Failed, rec, nil
			}
		}

		if m.cfg.MaxPolls > 0 && polls >= m.cfg.MaxPolls {
			return NotPaid, nil, newOpError(
				ErrPaymentPending,
				"await "+id.String(),
				errors.Errorf("no terminal state after %d polls", polls),
			)
		}

		select {
		case <-t.Ticks():
		case <-deadline:
			return NotPaid, nil, newOpError(
				ErrPaymentPending,
				"await "+id.String(),
				errors.Errorf("no terminal state after %v", m.cfg.Timeout),
			)
		case <-ctx.Done():
			return NotPaid, nil, newOpError(ErrPaymentPending, "await "+id.String(), ctx.Err())
		}
	}
}
