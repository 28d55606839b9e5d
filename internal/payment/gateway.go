package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type ChargeRequest struct {
	AppointmentID    uuid.UUID
	Amount           decimal.Decimal
	Currency         string
	PaymentMethodRef string
}

type ChargeResult struct {
	TransactionID string
	Declined      bool
	DeclineReason string
}

type RefundRequest struct {
	AppointmentID uuid.UUID
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Reason        string
}

type RefundResult struct {
	TransactionID string
}

// Gateway is the external payment processor boundary. A decline is a normal
// result, not an error; errors mean the gateway could not be reached after
// retries.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}
