package lightning

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// PaymentID correlates a submitted payment with later status lookups.
type PaymentID [32]byte

func (id PaymentID) String() string {
	return hex.EncodeToString(id[:])
}

// Channel is a point-in-time view of one of the node's channels.
type Channel struct {
	ID          uint64
	Ready       bool
	InboundMsat lnwire.MilliSatoshi
}

// ChannelSnapshot is read fresh from the node for every decision that
// depends on it.
type ChannelSnapshot []Channel

type PaymentStatus int

const (
	PaymentPending PaymentStatus = iota
	PaymentSucceeded
	PaymentFailed
)

var PaymentStatusToString = map[PaymentStatus]string{
	PaymentPending:   "pending",
	PaymentSucceeded: "succeeded",
	PaymentFailed:    "failed",
}

func (s PaymentStatus) String() string {
	return PaymentStatusToString[s]
}

type PaymentRecord struct {
	ID      PaymentID
	Status  PaymentStatus
	FeeMsat lnwire.MilliSatoshi
}

// JITHint is the route hint through the LSP that opens a channel to us
// when a just-in-time invoice gets paid.
type JITHint struct {
	NodeID                    *btcec.PublicKey
	ChannelID                 uint64
	FeeBaseMsat               uint32
	FeeProportionalMillionths uint32
	CLTVExpiryDelta           uint16
}

// Node is the lightning node the adapter drives. Payment returns a nil
// record and a nil error when the node has no record of the payment.
type Node interface {
	ListChannels(ctx context.Context) (ChannelSnapshot, error)
	Receive(ctx context.Context, amount lnwire.MilliSatoshi, description string, expiry time.Duration) (*DecodedInvoice, error)
	ReceiveViaJITChannel(ctx context.Context, amount lnwire.MilliSatoshi, description string, expiry time.Duration, hint *JITHint) (*DecodedInvoice, error)
	Send(ctx context.Context, invoice *DecodedInvoice) (PaymentID, error)
	Payment(ctx context.Context, id PaymentID) (*PaymentRecord, error)
}

type InvoiceReceipt struct {
	PaymentHash    lntypes.Hash
	PaymentRequest string
	JIT            bool
}

type PayResult struct {
	PaymentHash lntypes.Hash
	TotalFees   uint64
}

// Backend is the lightning capability the mint builds on.
type Backend interface {
	IsInvoicePaid(ctx context.Context, request string) (bool, error)
	CreateInvoice(ctx context.Context, amountSats uint64) (*InvoiceReceipt, error)
	PayInvoice(ctx context.Context, request string) (*PayResult, error)
	DecodeInvoice(request string) (*DecodedInvoice, error)
}
