package lightning

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	testNet       = &chaincfg.RegressionNetParams
	testKey, _    = btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x11}, 32))
	testTimestamp = time.Unix(1700000000, 0)
	errNode       = errors.New("node unavailable")
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.TraceLevel)
	return logger
}

// signInvoice returns a valid payment request issued at testTimestamp.
func signInvoice(t *testing.T, net *chaincfg.Params, amountSats uint64, expiry time.Duration) string {
	t.Helper()

	var preimage lntypes.Preimage
	_, err := rand.Read(preimage[:])
	require.NoError(t, err)

	var paymentAddr [32]byte
	_, err = rand.Read(paymentAddr[:])
	require.NoError(t, err)

	opts := []func(*zpay32.Invoice){
		zpay32.Description("test invoice"),
		zpay32.Expiry(expiry),
		zpay32.PaymentAddr(paymentAddr),
	}
	if amountSats > 0 {
		opts = append(opts, zpay32.Amount(lnwire.MilliSatoshi(amountSats*1000)))
	}

	inv, err := zpay32.NewInvoice(net, preimage.Hash(), testTimestamp, opts...)
	require.NoError(t, err)

	payReq, err := inv.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return ecdsa.SignCompact(testKey, chainhash.HashB(msg), true)
		},
	})
	require.NoError(t, err)

	return payReq
}

func decodedFixture(t *testing.T, amountSats uint64) *DecodedInvoice {
	t.Helper()

	inv, err := DecodeInvoice(signInvoice(t, testNet, amountSats, time.Hour), testNet)
	require.NoError(t, err)
	return inv
}

// corrupt breaks the bech32 checksum by swapping the last character.
func corrupt(payReq string) string {
	last := payReq[len(payReq)-1]
	replacement := byte('q')
	if last == 'q' {
		replacement = 'p'
	}
	return payReq[:len(payReq)-1] + string(replacement)
}

type lookup struct {
	rec *PaymentRecord
	err error
}

// fakeNode replays scripted responses and counts calls.
type fakeNode struct {
	mu sync.Mutex

	channels    ChannelSnapshot
	channelsErr error

	receiveInv *DecodedInvoice
	receiveErr error
	jitInv     *DecodedInvoice
	jitErr     error

	sendID  PaymentID
	sendErr error

	// lookups is replayed in order; the last entry repeats.
	lookups   []lookup
	onPayment func(call int)

	receiveCalls int
	jitCalls     int
	sendCalls    int
	paymentCalls int
	lastHint     *JITHint
	lastAmount   lnwire.MilliSatoshi
}

func (f *fakeNode) ListChannels(_ context.Context) (ChannelSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels, f.channelsErr
}

func (f *fakeNode) Receive(_ context.Context, amount lnwire.MilliSatoshi, _ string, _ time.Duration) (*DecodedInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiveCalls++
	f.lastAmount = amount
	return f.receiveInv, f.receiveErr
}

func (f *fakeNode) ReceiveViaJITChannel(_ context.Context, amount lnwire.MilliSatoshi, _ string, _ time.Duration, hint *JITHint) (*DecodedInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jitCalls++
	f.lastAmount = amount
	f.lastHint = hint
	return f.jitInv, f.jitErr
}

func (f *fakeNode) Send(_ context.Context, _ *DecodedInvoice) (PaymentID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	return f.sendID, f.sendErr
}

func (f *fakeNode) Payment(_ context.Context, _ PaymentID) (*PaymentRecord, error) {
	f.mu.Lock()
	call := f.paymentCalls
	f.paymentCalls++
	hook := f.onPayment

	var next lookup
	if len(f.lookups) > 0 {
		idx := call
		if idx >= len(f.lookups) {
			idx = len(f.lookups) - 1
		}
		next = f.lookups[idx]
	}
	f.mu.Unlock()

	if hook != nil {
		hook(call + 1)
	}

	return next.rec, next.err
}

func (f *fakeNode) calls() (receive, jit, send, payment int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receiveCalls, f.jitCalls, f.sendCalls, f.paymentCalls
}

func record(status PaymentStatus) lookup {
	return lookup{rec: &PaymentRecord{Status: status}}
}

func notFound() lookup {
	return lookup{}
}

// sharedTicker lets one ticker.Force serve every wait in a test; the test
// owns its shutdown.
type sharedTicker struct {
	*ticker.Force
}

func (sharedTicker) Stop() {}

func newTestTicker(t *testing.T) (*ticker.Force, func(time.Duration) ticker.Ticker) {
	force := ticker.NewForce(time.Hour)
	t.Cleanup(force.Stop)

	return force, func(time.Duration) ticker.Ticker {
		return sharedTicker{force}
	}
}

// tickUntil delivers ticks until done is closed.
func tickUntil(force *ticker.Force, done <-chan struct{}) {
	for {
		select {
		case force.Force <- time.Now():
		case <-done:
			return
		}
	}
}
