package lnbits

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/go-mintln/lightning"
)

var ErrJITUnsupported = errors.New("lnbits: route hints are not supported")

type Config struct {
	URL string

	// InvoiceKey is enough to create and look up invoices. AdminKey is
	// needed to pay.
	InvoiceKey string
	AdminKey   string

	Network *chaincfg.Params

	// LNbits does not expose the channels of its funding source, so the
	// wallet is reported as a single ready channel with this much inbound.
	InboundMsat lnwire.MilliSatoshi

	HTTPClient *http.Client
}

// Node drives an LNbits wallet over its REST API.
type Node struct {
	url        string
	invoiceKey string
	adminKey   string
	net        *chaincfg.Params
	inbound    lnwire.MilliSatoshi
	http       *http.Client
	log        *logrus.Logger
}

var _ lightning.Node = (*Node)(nil)

type payment struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount,omitempty"`
	Memo   string `json:"memo,omitempty"`
	Expiry int64  `json:"expiry,omitempty"`
	Bolt11 string `json:"bolt11,omitempty"`
}

type paymentResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

type paymentStatusResponse struct {
	Paid    bool   `json:"paid"`
	Status  string `json:"status"`
	Details struct {
		Status string `json:"status"`
		Fee    int64  `json:"fee"`
	} `json:"details"`
}

func New(cfg *Config, log *logrus.Logger) (*Node, error) {
	if cfg.URL == "" {
		return nil, errors.New("lnbits: url is required")
	}
	if cfg.InvoiceKey == "" {
		return nil, errors.New("lnbits: invoice key is required")
	}
	if cfg.Network == nil {
		return nil, errors.New("lnbits: network is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	adminKey := cfg.AdminKey
	if adminKey == "" {
		log.Warn("[lnbits] no admin key, outbound payments will be rejected")
	}

	return &Node{
		url:        strings.TrimRight(cfg.URL, "/"),
		invoiceKey: cfg.InvoiceKey,
		adminKey:   adminKey,
		net:        cfg.Network,
		inbound:    cfg.InboundMsat,
		http:       client,
		log:        log,
	}, nil
}

func (l *Node) ListChannels(ctx context.Context) (lightning.ChannelSnapshot, error) {
	return lightning.ChannelSnapshot{{ID: 0, Ready: true, InboundMsat: l.inbound}}, nil
}

func (l *Node) Receive(
	ctx context.Context,
	amountMsat lnwire.MilliSatoshi,
	description string,
	expiry time.Duration,
) (*lightning.DecodedInvoice, error) {
	target := &paymentResponse{}
	err := l.do(ctx, http.MethodPost, "/api/v1/payments", l.invoiceKey, &payment{
		Out:    false,
		Amount: int64(amountMsat.ToSatoshis()),
		Memo:   description,
		Expiry: int64(expiry / time.Second),
	}, target)
	if err != nil {
		return nil, err
	}

	inv, err := lightning.DecodeInvoice(target.PaymentRequest, l.net)
	if err != nil {
		return nil, errors.Wrap(err, "lnbits returned an undecodable invoice")
	}
	if inv.PaymentHash.String() != target.PaymentHash {
		return nil, errors.Errorf("lnbits: payment hash mismatch: %s", target.PaymentHash)
	}

	l.log.Debugf("[lnbits] added invoice %s", inv.PaymentHash)

	return inv, nil
}

func (l *Node) ReceiveViaJITChannel(
	context.Context,
	lnwire.MilliSatoshi,
	string,
	time.Duration,
	*lightning.JITHint,
) (*lightning.DecodedInvoice, error) {
	return nil, ErrJITUnsupported
}

func (l *Node) Send(ctx context.Context, invoice *lightning.DecodedInvoice) (lightning.PaymentID, error) {
	if l.adminKey == "" {
		return lightning.PaymentID{}, errors.New("lnbits: admin key required to pay")
	}

	target := &paymentResponse{}
	err := l.do(ctx, http.MethodPost, "/api/v1/payments", l.adminKey, &payment{
		Out:    true,
		Bolt11: invoice.String(),
	}, target)
	if err != nil {
		return lightning.PaymentID{}, err
	}

	return lightning.PaymentID(invoice.PaymentHash), nil
}

func (l *Node) Payment(ctx context.Context, id lightning.PaymentID) (*lightning.PaymentRecord, error) {
	target := &paymentStatusResponse{}
	err := l.do(ctx, http.MethodGet, "/api/v1/payments/"+id.String(), l.invoiceKey, nil, target)
	if errors.Cause(err) == errNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	fee := target.Details.Fee
	if fee < 0 {
		fee = -fee
	}

	return &lightning.PaymentRecord{
		ID:      id,
		Status:  paymentStatus(target),
		FeeMsat: lnwire.MilliSatoshi(fee),
	}, nil
}

func paymentStatus(res *paymentStatusResponse) lightning.PaymentStatus {
	if res.Paid {
		return lightning.PaymentSucceeded
	}

	status := res.Status
	if status == "" {
		status = res.Details.Status
	}
	switch status {
	case "success":
		return lightning.PaymentSucceeded
	case "failed":
		return lightning.PaymentFailed
	default:
		return lightning.PaymentPending
	}
}

var errNotFound = errors.New("lnbits: not found")

func (l *Node) do(ctx context.Context, method, path, key string, body, target interface{}) error {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.url+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", key)
	req.Header.Set("Content-Type", "application/json")

	res, err := l.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return errors.Errorf("lnbits: %s %s: %d %s", method, path, res.StatusCode, strings.TrimSpace(string(detail)))
	}

	return json.NewDecoder(res.Body).Decode(target)
}
