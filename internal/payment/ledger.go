package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrPaymentDeclined = errors.New("payment declined")

// Ledger owns the "is this appointment paid" truth. Every capture and refund
// runs reserve -> gateway -> settle: the pending row is committed before the
// network call, so a crash mid-flight leaves an auditable reservation and a
// concurrent duplicate is rejected by the reservation guards.
type Ledger struct {
	repo    Repository
	gateway Gateway
	logger  *zap.Logger
}

func NewLedger(repo Repository, gateway Gateway, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:    repo,
		gateway: gateway,
		logger:  logger,
	}
}

// Capture authorizes and collects the appointment fee in one step.
func (l *Ledger) Capture(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, currency, methodRef string) (*Log, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("capture amount must be positive, got %s", amount)
	}

	entry, err := l.repo.InsertPendingCapture(ctx, appointmentID, amount, currency, methodRef)
	if err != nil {
		return nil, err
	}

	res, err := l.gateway.Charge(ctx, ChargeRequest{
		AppointmentID:    appointmentID,
		Amount:           amount,
		Currency:         currency,
		PaymentMethodRef: methodRef,
	})
	if err != nil {
		l.settleFailed(ctx, entry.ID, err.Error())
		return nil, fmt.Errorf("charge appointment %s: %w", appointmentID, err)
	}
	if res.Declined {
		l.settleFailed(ctx, entry.ID, res.DeclineReason)
		return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, res.DeclineReason)
	}

	settled, err := l.repo.MarkOutcome(ctx, entry.ID, LogSucceeded, &res.TransactionID, nil)
	if err != nil {
		return nil, fmt.Errorf("settle capture %d: %w", entry.ID, err)
	}

	return settled, nil
}

// Refund returns part or all of the captured amount. An empty currency means
// "same as the capture"; a non-empty mismatching one is rejected.
func (l *Ledger) Refund(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, currency, reason string) (*Log, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("refund amount must be positive, got %s", amount)
	}

	capture, err := l.repo.GetCapture(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrLogNotFound) {
			return nil, ErrNothingToRefund
		}
		return nil, fmt.Errorf("load capture: %w", err)
	}

	entry, err := l.repo.InsertPendingRefund(ctx, appointmentID, amount, currency, reason)
	if err != nil {
		return nil, err
	}

	txID := ""
	if capture.TransactionID != nil {
		txID = *capture.TransactionID
	}

	res, err := l.gateway.Refund(ctx, RefundRequest{
		AppointmentID: appointmentID,
		TransactionID: txID,
		Amount:        amount,
		Currency:      capture.Currency,
		Reason:        reason,
	})
	if err != nil {
		l.settleFailed(ctx, entry.ID, err.Error())
		return nil, fmt.Errorf("refund appointment %s: %w", appointmentID, err)
	}

	settled, err := l.repo.MarkOutcome(ctx, entry.ID, LogSucceeded, &res.TransactionID, nil)
	if err != nil {
		return nil, fmt.Errorf("settle refund %d: %w", entry.ID, err)
	}

	return settled, nil
}

// CapturedAmount returns the succeeded capture amount and currency, or a zero
// amount when nothing was captured.
func (l *Ledger) CapturedAmount(ctx context.Context, appointmentID uuid.UUID) (decimal.Decimal, string, error) {
	capture, err := l.repo.GetCapture(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrLogNotFound) {
			return decimal.Zero, "", nil
		}
		return decimal.Zero, "", err
	}
	return capture.Amount, capture.Currency, nil
}

func (l *Ledger) RefundedTotal(ctx context.Context, appointmentID uuid.UUID) (decimal.Decimal, error) {
	return l.repo.SumRefunds(ctx, appointmentID)
}

func (l *Ledger) Logs(ctx context.Context, appointmentID uuid.UUID) ([]Log, error) {
	return l.repo.List(ctx, appointmentID)
}

func (l *Ledger) settleFailed(ctx context.Context, id int64, reason string) {
	if _, err := l.repo.MarkOutcome(ctx, id, LogFailed, nil, &reason); err != nil {
		l.logger.Error("failed to settle ledger entry as failed",
			zap.Int64("entry_id", id),
			zap.Error(err))
	}
}
