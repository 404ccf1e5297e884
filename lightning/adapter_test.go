package lightning

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	node    *fakeNode
	adapter *Adapter
	metrics *Metrics
	stop    func()
}

// setupTestEnv builds an adapter whose polls are driven by a ticker that
// fires as fast as the monitor consumes it.
func setupTestEnv(t *testing.T, node *fakeNode, cfg Config) *testEnv {
	force, newTicker := newTestTicker(t)
	done := make(chan struct{})
	go tickUntil(force, done)

	if cfg.Network == nil {
		cfg.Network = testNet
	}
	metrics := NewMetrics(prometheus.NewRegistry())

	adapter, err := New(
		node,
		cfg,
		testLogger(),
		WithClock(clock.NewTestClock(testTimestamp)),
		WithTicker(newTicker),
		WithMetrics(metrics),
	)
	require.NoError(t, err)

	return &testEnv{
		node:    node,
		adapter: adapter,
		metrics: metrics,
		stop:    func() { close(done) },
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Network: testNet}, testLogger())
	assert.Error(t, err)

	_, err = New(&fakeNode{}, Config{}, testLogger())
	assert.Error(t, err)

	adapter, err := New(&fakeNode{}, Config{Network: testNet}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultInvoiceDescription, adapter.cfg.InvoiceDescription)
	assert.Equal(t, DefaultInvoiceExpiry, adapter.cfg.InvoiceExpiry)
	assert.EqualValues(t, DefaultFeeReserveSats, adapter.cfg.FeeReserveSats)
	assert.Equal(t, DefaultPollInterval, adapter.monitor.cfg.PollInterval)
	assert.Equal(t, DefaultPollTimeout, adapter.monitor.cfg.Timeout)
}

func TestAdapter_DecodeInvoice(t *testing.T) {
	env := setupTestEnv(t, &fakeNode{}, Config{})
	defer env.stop()

	payReq := signInvoice(t, testNet, 1000, time.Hour)

	inv, err := env.adapter.DecodeInvoice(payReq)
	require.NoError(t, err)
	assert.Equal(t, payReq, inv.String())

	corrupted := corrupt(payReq)
	_, err = env.adapter.DecodeInvoice(corrupted)

	var invalid *InvalidInvoiceError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, corrupted, invalid.Raw)
}

func TestAdapter_CreateInvoice_JITWithoutReadyChannels(t *testing.T) {
	jitInv := decodedFixture(t, 1000)
	node := &fakeNode{
		channels: ChannelSnapshot{{ID: 1, Ready: false, InboundMsat: 50000000}},
		jitInv:   jitInv,
	}
	env := setupTestEnv(t, node, Config{InvoiceDescription: "quote", InvoiceExpiry: 10 * time.Minute})
	defer env.stop()

	receipt, err := env.adapter.CreateInvoice(context.Background(), 1000)
	require.NoError(t, err)

	receive, jit, _, _ := node.calls()
	assert.Equal(t, 0, receive)
	assert.Equal(t, 1, jit)
	assert.Equal(t, jitInv.PaymentHash, receipt.PaymentHash)
	assert.Equal(t, jitInv.String(), receipt.PaymentRequest)
}

func TestAdapter_CreateInvoice_Failure(t *testing.T) {
	node := &fakeNode{jitErr: errNode}
	env := setupTestEnv(t, node, Config{})
	defer env.stop()

	_, err := env.adapter.CreateInvoice(context.Background(), 1000)
	assert.True(t, errors.Is(err, ErrInvoiceCreationFailed))
}

func TestAdapter_IsInvoicePaid(t *testing.T) {
	for _, tc := range []struct {
		name     string
		lookup   lookup
		expected bool
	}{
		{"succeeded", record(PaymentSucceeded), true},
		{"pending", record(PaymentPending), false},
		{"failed", record(PaymentFailed), false},
		{"not found", notFound(), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			node := &fakeNode{lookups: []lookup{tc.lookup}}
			env := setupTestEnv(t, node, Config{})
			defer env.stop()

			paid, err := env.adapter.IsInvoicePaid(context.Background(), signInvoice(t, testNet, 10, time.Hour))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, paid)
		})
	}
}

func TestAdapter_IsInvoicePaid_InvalidInvoice(t *testing.T) {
	node := &fakeNode{}
	env := setupTestEnv(t, node, Config{})
	defer env.stop()

	_, err := env.adapter.IsInvoicePaid(context.Background(), "lnbcrt1garbage")
	assert.True(t, errors.Is(err, ErrInvalidInvoice))

	_, _, _, payment := node.calls()
	assert.Zero(t, payment)
}

func TestAdapter_PayInvoice_PaidAfterThreePolls(t *testing.T) {
	payReq := signInvoice(t, testNet, 1000, time.Hour)
	inv, err := DecodeInvoice(payReq, testNet)
	require.NoError(t, err)

	node := &fakeNode{
		sendID:  PaymentID(inv.PaymentHash),
		lookups: []lookup{record(PaymentPending), record(PaymentPending), record(PaymentSucceeded)},
	}
	env := setupTestEnv(t, node, Config{FeeReserveSats: 1})
	defer env.stop()

	result, err := env.adapter.PayInvoice(context.Background(), payReq)
	require.NoError(t, err)
	assert.Equal(t, inv.PaymentHash, result.PaymentHash)
	assert.EqualValues(t, 1, result.TotalFees)

	_, _, send, payment := node.calls()
	assert.Equal(t, 1, send)
	assert.Equal(t, 3, payment)

	assert.EqualValues(t, 1, testutil.ToFloat64(env.metrics.payments.WithLabelValues(resultPaid)))
}

func TestAdapter_PayInvoice_ReportsNodeFee(t *testing.T) {
	node := &fakeNode{
		lookups: []lookup{{rec: &PaymentRecord{Status: PaymentSucceeded, FeeMsat: 1500}}},
	}
	env := setupTestEnv(t, node, Config{FeeReserveSats: 1})
	defer env.stop()

	result, err := env.adapter.PayInvoice(context.Background(), signInvoice(t, testNet, 1000, time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.TotalFees)
}

func TestAdapter_PayInvoice_FailedOnFirstPoll(t *testing.T) {
	node := &fakeNode{lookups: []lookup{record(PaymentFailed)}}

	// Nothing ticks: a second poll would block the test forever.
	_, newTicker := newTestTicker(t)
	adapter, err := New(
		node,
		Config{Network: testNet},
		testLogger(),
		WithClock(clock.NewTestClock(testTimestamp)),
		WithTicker(newTicker),
	)
	require.NoError(t, err)

	_, err = adapter.PayInvoice(context.Background(), signInvoice(t, testNet, 1000, time.Hour))
	assert.True(t, errors.Is(err, ErrPaymentFailed))
	assert.False(t, errors.Is(err, ErrPaymentSubmissionFailed))

	_, _, _, payment := node.calls()
	assert.Equal(t, 1, payment)
}

func TestAdapter_PayInvoice_NotFoundIsFailure(t *testing.T) {
	node := &fakeNode{lookups: []lookup{notFound()}}
	env := setupTestEnv(t, node, Config{})
	defer env.stop()

	_, err := env.adapter.PayInvoice(context.Background(), signInvoice(t, testNet, 1000, time.Hour))
	assert.True(t, errors.Is(err, ErrPaymentFailed))
}

func TestAdapter_PayInvoice_DistinguishesErrors(t *testing.T) {
	t.Run("undecodable", func(t *testing.T) {
		node := &fakeNode{}
		env := setupTestEnv(t, node, Config{})
		defer env.stop()

		_, err := env.adapter.PayInvoice(context.Background(), corrupt(signInvoice(t, testNet, 1000, time.Hour)))
		assert.True(t, errors.Is(err, ErrInvalidInvoice))
		assert.False(t, errors.Is(err, ErrPaymentSubmissionFailed))
		assert.False(t, errors.Is(err, ErrPaymentFailed))

		_, _, send, _ := node.calls()
		assert.Zero(t, send)
		assert.EqualValues(t, 1, testutil.ToFloat64(env.metrics.payments.WithLabelValues(resultInvalid)))
	})

	t.Run("submission rejected", func(t *testing.T) {
		node := &fakeNode{sendErr: errNode}
		env := setupTestEnv(t, node, Config{})
		defer env.stop()

		_, err := env.adapter.PayInvoice(context.Background(), signInvoice(t, testNet, 1000, time.Hour))
		assert.True(t, errors.Is(err, ErrPaymentSubmissionFailed))
		assert.False(t, errors.Is(err, ErrInvalidInvoice))
		assert.False(t, errors.Is(err, ErrPaymentFailed))

		_, _, _, payment := node.calls()
		assert.Zero(t, payment)
	})

	t.Run("still pending", func(t *testing.T) {
		node := &fakeNode{lookups: []lookup{record(PaymentPending)}}
		env := setupTestEnv(t, node, Config{Monitor: MonitorConfig{MaxPolls: 3}})
		defer env.stop()

		_, err := env.adapter.PayInvoice(context.Background(), signInvoice(t, testNet, 1000, time.Hour))
		assert.True(t, errors.Is(err, ErrPaymentPending))
		assert.False(t, errors.Is(err, ErrPaymentFailed))

		_, _, _, payment := node.calls()
		assert.Equal(t, 3, payment)
	})
}

func TestAdapter_InboundLiquidity(t *testing.T) {
	node := &fakeNode{channels: ChannelSnapshot{
		{ID: 1, Ready: true, InboundMsat: 3000},
		{ID: 2, Ready: false, InboundMsat: 9000},
	}}
	env := setupTestEnv(t, node, Config{})
	defer env.stop()

	inbound, err := env.adapter.InboundLiquidity(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3000, inbound)

	node.mu.Lock()
	node.channelsErr = errNode
	node.mu.Unlock()

	_, err = env.adapter.InboundLiquidity(context.Background())
	assert.Error(t, err)
}
