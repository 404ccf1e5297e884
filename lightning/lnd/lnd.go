package lnd

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/invoices"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sebdeveloper6952/go-mintln/lightning"
)

const (
	defaultMaxFeeSats     = 100
	defaultPaymentTimeout = time.Minute
)

type Config struct {
	Address     string
	MacaroonHex string
	TLSData     string
	Network     lndclient.Network

	// MaxFeeSats caps the routing fee of outbound payments.
	MaxFeeSats btcutil.Amount

	// PaymentTimeout is how long lnd keeps trying routes for a payment.
	PaymentTimeout time.Duration
}

// Node drives an lnd daemon over gRPC.
type Node struct {
	svc    *lndclient.GrpcLndServices
	client lndclient.LightningClient
	router lndclient.RouterClient
	net    *chaincfg.Params

	maxFee         btcutil.Amount
	paymentTimeout time.Duration

	// sent holds the hashes this process paid, whose status lives with the
	// router rather than the invoice registry.
	sentMu sync.Mutex
	sent   map[lntypes.Hash]struct{}

	log *logrus.Logger
}

var _ lightning.Node = (*Node)(nil)

func New(cfg *Config, log *logrus.Logger) (*Node, error) {
	net, err := lightning.ChainParams(string(cfg.Network))
	if err != nil {
		return nil, err
	}

	svc, err := lndclient.NewLndServices(&lndclient.LndServicesConfig{
		LndAddress:        cfg.Address,
		Network:           cfg.Network,
		CustomMacaroonHex: cfg.MacaroonHex,
		TLSData:           cfg.TLSData,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to lnd")
	}

	n := &Node{
		svc:            svc,
		client:         svc.Client,
		router:         svc.Router,
		net:            net,
		maxFee:         cfg.MaxFeeSats,
		paymentTimeout: cfg.PaymentTimeout,
		sent:           make(map[lntypes.Hash]struct{}),
		log:            log,
	}
	if n.maxFee <= 0 {
		n.maxFee = defaultMaxFeeSats
	}
	if n.paymentTimeout <= 0 {
		n.paymentTimeout = defaultPaymentTimeout
	}

	log.Infof("[lnd] connected to %s (%s)", svc.NodeAlias, cfg.Address)

	return n, nil
}

func (n *Node) Close() {
	n.svc.Close()
}

func (n *Node) ListChannels(ctx context.Context) (lightning.ChannelSnapshot, error) {
	channels, err := n.client.ListChannels(ctx, false, false)
	if err != nil {
		return nil, err
	}

	return channelSnapshot(channels), nil
}

func (n *Node) Receive(
	ctx context.Context,
	amount lnwire.MilliSatoshi,
	description string,
	expiry time.Duration,
) (*lightning.DecodedInvoice, error) {
	return n.addInvoice(ctx, &invoicesrpc.AddInvoiceData{
		Memo:   description,
		Value:  amount,
		Expiry: int64(expiry.Seconds()),
	})
}

// ReceiveViaJITChannel issues a private invoice routed through the LSP in
// hint. The LSP opens the channel to us when it intercepts the payment.
func (n *Node) ReceiveViaJITChannel(
	ctx context.Context,
	amount lnwire.MilliSatoshi,
	description string,
	expiry time.Duration,
	hint *lightning.JITHint,
) (*lightning.DecodedInvoice, error) {
	if hint == nil || hint.NodeID == nil {
		return nil, errors.New("no lsp route hint configured")
	}

	return n.addInvoice(ctx, &invoicesrpc.AddInvoiceData{
		Memo:    description,
		Value:   amount,
		Expiry:  int64(expiry.Seconds()),
		Private: true,
		RouteHints: [][]zpay32.HopHint{{
			{
				NodeID:                    hint.NodeID,
				ChannelID:                 hint.ChannelID,
				FeeBaseMSat:               hint.FeeBaseMsat,
				FeeProportionalMillionths: hint.FeeProportionalMillionths,
				CLTVExpiryDelta:           hint.CLTVExpiryDelta,
			},
		}},
	})
}

func (n *Node) addInvoice(ctx context.Context, data *invoicesrpc.AddInvoiceData) (*lightning.DecodedInvoice, error) {
	preimage := &lntypes.Preimage{}
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, err
	}
	data.Preimage = preimage

	hash, req, err := n.client.AddInvoice(ctx, data)
	if err != nil {
		return nil, err
	}

	inv, err := lightning.DecodeInvoice(req, n.net)
	if err != nil {
		return nil, err
	}
	if inv.PaymentHash != hash {
		return nil, errors.Errorf("lnd returned invoice for %s, expected %s", inv.PaymentHash, hash)
	}

	n.log.Debugf("[lnd] added invoice %s (private=%t)", hash, data.Private)

	return inv, nil
}

// Send starts a payment and returns once lnd has accepted or rejected it.
// The payment carries on inside lnd after Send returns.
func (n *Node) Send(ctx context.Context, invoice *lightning.DecodedInvoice) (lightning.PaymentID, error) {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, errs, err := n.router.SendPayment(sendCtx, lndclient.SendPaymentRequest{
		Invoice: invoice.String(),
		MaxFee:  n.maxFee,
		Timeout: n.paymentTimeout,
	})
	if err != nil {
		return lightning.PaymentID{}, err
	}

	select {
	case update := <-updates:
		n.log.Debugf("[lnd] payment %s accepted, state %v", invoice.PaymentHash, update.State)

		n.sentMu.Lock()
		n.sent[invoice.PaymentHash] = struct{}{}
		n.sentMu.Unlock()

		return lightning.PaymentID(invoice.PaymentHash), nil
	case err := <-errs:
		return lightning.PaymentID{}, err
	case <-ctx.Done():
		return lightning.PaymentID{}, ctx.Err()
	}
}

// Payment goes straight to the router for payments sent by this node.
// Anything else is looked up as an invoice of ours first, then as an
// outbound payment made before a restart.
func (n *Node) Payment(ctx context.Context, id lightning.PaymentID) (*lightning.PaymentRecord, error) {
	hash := lntypes.Hash(id)

	n.sentMu.Lock()
	_, sent := n.sent[hash]
	n.sentMu.Unlock()
	if sent {
		return n.trackPayment(ctx, id)
	}

	inv, err := n.client.LookupInvoice(ctx, hash)
	if err == nil {
		return &lightning.PaymentRecord{
			ID:     id,
			Status: invoiceStatus(inv.State),
		}, nil
	}
	if !isNotFound(err) {
		return nil, errors.Wrap(err, "lookup invoice")
	}

	return n.trackPayment(ctx, id)
}

func (n *Node) trackPayment(ctx context.Context, id lightning.PaymentID) (*lightning.PaymentRecord, error) {
	hash := lntypes.Hash(id)

	trackCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, errs, err := n.router.TrackPayment(trackCtx, hash)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "track payment")
	}

	select {
	case update := <-updates:
		return &lightning.PaymentRecord{
			ID:      id,
			Status:  paymentStatus(update.State),
			FeeMsat: update.Fee,
		}, nil
	case err := <-errs:
		if isNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "track payment")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func channelSnapshot(channels []lndclient.ChannelInfo) lightning.ChannelSnapshot {
	snapshot := make(lightning.ChannelSnapshot, 0, len(channels))
	for i := range channels {
		snapshot = append(snapshot, lightning.Channel{
			ID:          channels[i].ChannelID,
			Ready:       channels[i].Active,
			InboundMsat: lnwire.NewMSatFromSatoshis(receivable(&channels[i])),
		})
	}
	return snapshot
}

// receivable is the remote balance above the reserve the peer has to keep.
func receivable(channel *lndclient.ChannelInfo) btcutil.Amount {
	inbound := channel.RemoteBalance
	if channel.RemoteConstraints != nil {
		inbound -= channel.RemoteConstraints.Reserve
	}
	if inbound < 0 {
		return 0
	}
	return inbound
}

func invoiceStatus(state invoices.ContractState) lightning.PaymentStatus {
	switch state {
	case invoices.ContractSettled:
		return lightning.PaymentSucceeded
	case invoices.ContractCanceled:
		return lightning.PaymentFailed
	default:
		return lightning.PaymentPending
	}
}

func paymentStatus(state lnrpc.Payment_PaymentStatus) lightning.PaymentStatus {
	switch state {
	case lnrpc.Payment_SUCCEEDED:
		return lightning.PaymentSucceeded
	case lnrpc.Payment_FAILED:
		return lightning.PaymentFailed
	default:
		return lightning.PaymentPending
	}
}

// isNotFound recognises lnd's "unknown invoice" and "unknown payment"
// errors, which older daemons return without a NotFound status code.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if status.Code(err) == codes.NotFound {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "unable to locate invoice") ||
		strings.Contains(msg, "there are no existing invoices") ||
		strings.Contains(msg, "payment isn't initiated")
}
