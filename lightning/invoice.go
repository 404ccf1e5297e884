package lightning

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/pkg/errors"
)

const uriPrefix = "lightning:"

// DecodedInvoice is the adapter's view of a BOLT11 payment request.
type DecodedInvoice struct {
	PaymentHash lntypes.Hash
	Amount      *lnwire.MilliSatoshi
	Expiry      time.Duration
	Timestamp   time.Time
	Description string
	Destination string
	Network     string
	Raw         string
}

// DecodeInvoice parses a payment request for the given network. Surrounding
// whitespace and a lightning: URI prefix are tolerated.
func DecodeInvoice(request string, net *chaincfg.Params) (*DecodedInvoice, error) {
	payReq := normalizePayReq(request)
	if payReq == "" {
		return nil, &InvalidInvoiceError{Raw: request, Err: errors.New("empty payment request")}
	}

	inv, err := zpay32.Decode(payReq, net)
	if err != nil {
		return nil, &InvalidInvoiceError{Raw: request, Err: err}
	}
	if inv.PaymentHash == nil {
		return nil, &InvalidInvoiceError{Raw: request, Err: errors.New("missing payment hash")}
	}

	decoded := &DecodedInvoice{
		PaymentHash: lntypes.Hash(*inv.PaymentHash),
		Expiry:      inv.Expiry(),
		Timestamp:   inv.Timestamp,
		Network:     net.Name,
		Raw:         payReq,
	}
	if inv.MilliSat != nil {
		amt := *inv.MilliSat
		decoded.Amount = &amt
	}
	if inv.Description != nil {
		decoded.Description = *inv.Description
	}
	if inv.Destination != nil {
		decoded.Destination = hex.EncodeToString(inv.Destination.SerializeCompressed())
	}

	return decoded, nil
}

func normalizePayReq(request string) string {
	payReq := strings.TrimSpace(request)
	if len(payReq) >= len(uriPrefix) && strings.EqualFold(payReq[:len(uriPrefix)], uriPrefix) {
		payReq = payReq[len(uriPrefix):]
	}
	return payReq
}

// String returns the payment request the invoice was decoded from.
func (i *DecodedInvoice) String() string {
	return i.Raw
}

func (i *DecodedInvoice) ExpiresAt() time.Time {
	return i.Timestamp.Add(i.Expiry)
}

func (i *DecodedInvoice) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt())
}

// AmountSats rounds the requested amount down to whole satoshis. Amountless
// invoices report zero.
func (i *DecodedInvoice) AmountSats() uint64 {
	if i.Amount == nil {
		return 0
	}
	return uint64(i.Amount.ToSatoshis())
}

// ChainParams maps a network name to its chain parameters.
func ChainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, errors.Errorf("unknown network %q", network)
	}
}
