package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrLogNotFound           = errors.New("payment log entry not found")
	ErrAlreadyCaptured       = errors.New("payment already captured for appointment")
	ErrNothingToRefund       = errors.New("no captured payment to refund")
	ErrExceedsCapturedAmount = errors.New("refund exceeds captured amount")
	ErrCurrencyMismatch      = errors.New("refund currency does not match capture")
)

// Repository owns the ledger table. The pending-row inserts run their guards
// (single active capture, refund reservation sum) inside one DB transaction,
// so concurrent captures or refunds for the same appointment cannot both
// reserve funds.
type Repository interface {
	// InsertPendingCapture reserves the single capture slot for an
	// appointment. ErrAlreadyCaptured if a non-failed capture row exists.
	InsertPendingCapture(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, currency, methodRef string) (*Log, error)

	// InsertPendingRefund reserves refund funds against the succeeded
	// capture. ErrNothingToRefund without one, ErrCurrencyMismatch if
	// currency is set and differs, ErrExceedsCapturedAmount if the amount
	// plus prior non-failed refunds exceeds the captured total.
	InsertPendingRefund(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, currency, reason string) (*Log, error)

	// MarkOutcome records the terminal outcome of a pending row.
	MarkOutcome(ctx context.Context, id int64, status LogStatus, transactionID, reason *string) (*Log, error)

	// GetCapture returns the succeeded capture row, ErrLogNotFound if none.
	GetCapture(ctx context.Context, appointmentID uuid.UUID) (*Log, error)

	SumRefunds(ctx context.Context, appointmentID uuid.UUID) (decimal.Decimal, error)
	List(ctx context.Context, appointmentID uuid.UUID) ([]Log, error)
}
