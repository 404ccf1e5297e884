package memory

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/go-mintln/lightning"
)

var (
	ErrUnknownPayment   = errors.New("memory: unknown payment")
	ErrDuplicatePayment = errors.New("memory: payment already attempted")
	ErrAmountRequired   = errors.New("memory: invoice has no amount")
	errDeveloperInduced = errors.New("memory: developer induced error")
)

type Config struct {
	Network *chaincfg.Params

	// AutoSettle, when non-zero, settles every invoice and outbound
	// payment that long after it was created.
	AutoSettle time.Duration

	Clock clock.Clock
}

type invoice struct {
	decoded *lightning.DecodedInvoice
	status  lightning.PaymentStatus
	jit     bool
}

// Node is an in-process lightning node for development and tests. It signs
// real BOLT11 invoices with a throwaway key.
type Node struct {
	net        *chaincfg.Params
	key        *btcec.PrivateKey
	clock      clock.Clock
	autoSettle time.Duration
	log        *logrus.Logger

	quit     chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	channels    lightning.ChannelSnapshot
	invoices    map[lntypes.Hash]*invoice
	payments    map[lightning.PaymentID]*lightning.PaymentRecord
	induceError bool
}

var _ lightning.Node = (*Node)(nil)

func New(cfg *Config, log *logrus.Logger) (*Node, error) {
	if cfg.Network == nil {
		return nil, errors.New("memory: network is required")
	}

	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Node{
		net:        cfg.Network,
		key:        key,
		clock:      clk,
		autoSettle: cfg.AutoSettle,
		log:        log,
		invoices:   make(map[lntypes.Hash]*invoice),
		payments:   make(map[lightning.PaymentID]*lightning.PaymentRecord),
		quit:       make(chan struct{}),
	}, nil
}

// Stop abandons pending auto-settles.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.quit)
	})
}

// afterAutoSettle runs fn once the auto-settle delay has passed, unless the
// node is stopped first.
func (n *Node) afterAutoSettle(fn func()) {
	if n.autoSettle <= 0 {
		return
	}

	tick := n.clock.TickAfter(n.autoSettle)
	go func() {
		select {
		case <-tick:
		case <-n.quit:
			return
		}

		// Stop wins over a timer that fired at the same time.
		select {
		case <-n.quit:
			return
		default:
		}

		fn()
	}()
}

// PubKey is the key invoices issued by this node are signed with.
func (n *Node) PubKey() *btcec.PublicKey {
	return n.key.PubKey()
}

// AddChannel adds a channel, or replaces the one with the same id.
func (n *Node) AddChannel(id uint64, ready bool, inbound lnwire.MilliSatoshi) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i := range n.channels {
		if n.channels[i].ID == id {
			n.channels[i].Ready = ready
			n.channels[i].InboundMsat = inbound
			return
		}
	}
	n.channels = append(n.channels, lightning.Channel{
		ID:          id,
		Ready:       ready,
		InboundMsat: inbound,
	})
}

// InduceErrors makes every subsequent node call fail until
// StopInducingErrors is called.
func (n *Node) InduceErrors() {
	n.mu.Lock()
	n.induceError = true
	n.mu.Unlock()
}

func (n *Node) StopInducingErrors() {
	n.mu.Lock()
	n.induceError = false
	n.mu.Unlock()
}

func (n *Node) ListChannels(_ context.Context) (lightning.ChannelSnapshot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.induceError {
		return nil, errDeveloperInduced
	}

	snapshot := make(lightning.ChannelSnapshot, len(n.channels))
	copy(snapshot, n.channels)
	return snapshot, nil
}

func (n *Node) Receive(
	_ context.Context,
	amount lnwire.MilliSatoshi,
	description string,
	expiry time.Duration,
) (*lightning.DecodedInvoice, error) {
	return n.newInvoice(amount, description, expiry, nil, false)
}

func (n *Node) ReceiveViaJITChannel(
	_ context.Context,
	amount lnwire.MilliSatoshi,
	description string,
	expiry time.Duration,
	hint *lightning.JITHint,
) (*lightning.DecodedInvoice, error) {
	var hops []zpay32.HopHint
	if hint != nil && hint.NodeID != nil {
		hops = []zpay32.HopHint{{
			NodeID:                    hint.NodeID,
			ChannelID:                 hint.ChannelID,
			FeeBaseMSat:               hint.FeeBaseMsat,
			FeeProportionalMillionths: hint.FeeProportionalMillionths,
			CLTVExpiryDelta:           hint.CLTVExpiryDelta,
		}}
	}

	return n.newInvoice(amount, description, expiry, hops, true)
}

func (n *Node) newInvoice(
	amount lnwire.MilliSatoshi,
	description string,
	expiry time.Duration,
	hops []zpay32.HopHint,
	jit bool,
) (*lightning.DecodedInvoice, error) {
	n.mu.Lock()
	induceError := n.induceError
	n.mu.Unlock()
	if induceError {
		return nil, errDeveloperInduced
	}

	preimage := lntypes.Preimage{}
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, err
	}
	var paymentAddr [32]byte
	if _, err := rand.Read(paymentAddr[:]); err != nil {
		return nil, err
	}

	opts := []func(*zpay32.Invoice){
		zpay32.Amount(amount),
		zpay32.Description(description),
		zpay32.Expiry(expiry),
		zpay32.PaymentAddr(paymentAddr),
	}
	if len(hops) > 0 {
		opts = append(opts, zpay32.RouteHint(hops))
	}

	payReq, err := Sign(n.net, n.key, preimage.Hash(), n.clock.Now(), opts...)
	if err != nil {
		return nil, err
	}

	inv, err := lightning.DecodeInvoice(payReq, n.net)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.invoices[inv.PaymentHash] = &invoice{
		decoded: inv,
		status:  lightning.PaymentPending,
		jit:     jit,
	}
	n.mu.Unlock()

	n.log.Debugf("[memory] issued invoice %s for %d msat", inv.PaymentHash, amount)

	hash := inv.PaymentHash
	n.afterAutoSettle(func() {
		n.log.Infof("[memory] auto-settling invoice %s", hash)
		_ = n.SettleInvoice(hash)
	})

	return inv, nil
}

// Send records a new pending payment keyed by the invoice's payment hash.
func (n *Node) Send(_ context.Context, inv *lightning.DecodedInvoice) (lightning.PaymentID, error) {
	if inv.Amount == nil {
		return lightning.PaymentID{}, ErrAmountRequired
	}

	id := lightning.PaymentID(inv.PaymentHash)

	n.mu.Lock()
	if n.induceError {
		n.mu.Unlock()
		return lightning.PaymentID{}, errDeveloperInduced
	}
	if existing, ok := n.payments[id]; ok && existing.Status != lightning.PaymentFailed {
		n.mu.Unlock()
		return lightning.PaymentID{}, ErrDuplicatePayment
	}
	n.payments[id] = &lightning.PaymentRecord{
		ID:     id,
		Status: lightning.PaymentPending,
	}
	n.mu.Unlock()

	n.log.Debugf("[memory] sending %d msat to %s", *inv.Amount, inv.Destination)

	n.afterAutoSettle(func() {
		n.log.Infof("[memory] auto-settling payment %s", id)
		_ = n.SettlePayment(id, 0)
	})

	return id, nil
}

// Payment prefers outbound payment records over our own invoices.
func (n *Node) Payment(_ context.Context, id lightning.PaymentID) (*lightning.PaymentRecord, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.induceError {
		return nil, errDeveloperInduced
	}

	if rec, ok := n.payments[id]; ok {
		cloned := *rec
		return &cloned, nil
	}
	if inv, ok := n.invoices[lntypes.Hash(id)]; ok {
		return &lightning.PaymentRecord{
			ID:     id,
			Status: inv.status,
		}, nil
	}

	return nil, nil
}

// SettleInvoice marks one of our invoices as paid. Paying a just-in-time
// invoice opens a ready channel with no remaining inbound capacity.
func (n *Node) SettleInvoice(hash lntypes.Hash) error {
	return n.resolveInvoice(hash, lightning.PaymentSucceeded)
}

func (n *Node) CancelInvoice(hash lntypes.Hash) error {
	return n.resolveInvoice(hash, lightning.PaymentFailed)
}

func (n *Node) resolveInvoice(hash lntypes.Hash, status lightning.PaymentStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	inv, ok := n.invoices[hash]
	if !ok {
		return ErrUnknownPayment
	}
	if inv.status != lightning.PaymentPending {
		return nil
	}
	inv.status = status

	if status == lightning.PaymentSucceeded && inv.jit {
		n.channels = append(n.channels, lightning.Channel{
			ID:    n.nextChannelID(),
			Ready: true,
		})
	}

	return nil
}

func (n *Node) nextChannelID() uint64 {
	var max uint64
	for i := range n.channels {
		if n.channels[i].ID > max {
			max = n.channels[i].ID
		}
	}
	return max + 1
}

// SettlePayment completes an outbound payment with the given routing fee.
func (n *Node) SettlePayment(id lightning.PaymentID, fee lnwire.MilliSatoshi) error {
	return n.resolvePayment(id, lightning.PaymentSucceeded, fee)
}

func (n *Node) FailPayment(id lightning.PaymentID) error {
	return n.resolvePayment(id, lightning.PaymentFailed, 0)
}

func (n *Node) resolvePayment(id lightning.PaymentID, status lightning.PaymentStatus, fee lnwire.MilliSatoshi) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	rec, ok := n.payments[id]
	if !ok {
		return ErrUnknownPayment
	}
	if rec.Status != lightning.PaymentPending {
		return nil
	}
	rec.Status = status
	rec.FeeMsat = fee

	return nil
}

// Sign builds and signs a BOLT11 invoice with key.
func Sign(
	net *chaincfg.Params,
	key *btcec.PrivateKey,
	hash lntypes.Hash,
	timestamp time.Time,
	opts ...func(*zpay32.Invoice),
) (string, error) {
	inv, err := zpay32.NewInvoice(net, hash, timestamp, opts...)
	if err != nil {
		return "", err
	}

	return inv.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return ecdsa.SignCompact(key, chainhash.HashB(msg), true)
		},
	})
}
