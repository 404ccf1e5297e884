package lightning

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInvoice indicates the payment request could not be decoded
	ErrInvalidInvoice = errors.New("invalid invoice")

	// ErrInvoiceCreationFailed indicates the node refused to issue an invoice
	ErrInvoiceCreationFailed = errors.New("invoice creation failed")

	// ErrPaymentSubmissionFailed indicates the node rejected an outbound payment
	ErrPaymentSubmissionFailed = errors.New("payment submission failed")

	// ErrPaymentFailed indicates a submitted payment reached a failed state
	ErrPaymentFailed = errors.New("payment failed")

	// ErrPaymentPending indicates the wait for a terminal state was abandoned
	// while the payment may still be in flight
	ErrPaymentPending = errors.New("payment still pending")
)

// InvalidInvoiceError carries the offending request verbatim alongside the
// decoder's diagnostic.
type InvalidInvoiceError struct {
	Raw string
	Err error
}

func (e *InvalidInvoiceError) Error() string {
	return fmt.Sprintf("%v %q: %v", ErrInvalidInvoice, e.Raw, e.Err)
}

func (e *InvalidInvoiceError) Unwrap() error {
	return e.Err
}

func (e *InvalidInvoiceError) Is(target error) bool {
	return target == ErrInvalidInvoice
}

// opError ties one of the sentinels above to the node error behind it, so
// both errors.Is(err, sentinel) and errors.Cause(err) keep working.
type opError struct {
	kind  error
	op    string
	cause error
}

func newOpError(kind error, op string, cause error) error {
	return &opError{
		kind:  kind,
		op:    op,
		cause: cause,
	}
}

func (e *opError) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.kind, e.op, e.cause)
}

func (e *opError) Is(target error) bool {
	return target == e.kind
}

func (e *opError) Unwrap() error {
	return e.cause
}

func (e *opError) Cause() error {
	return e.cause
}
