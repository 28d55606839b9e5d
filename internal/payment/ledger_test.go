package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memRepo mirrors the transactional guards of the Postgres repository on a
// plain slice.
type memRepo struct {
	nextID int64
	logs   []Log
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1}
}

func (m *memRepo) InsertPendingCapture(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, currency, methodRef string) (*Log, error) {
	for _, l := range m.logs {
		if l.AppointmentID == appointmentID && l.Kind == KindCapture && l.Status != LogFailed {
			return nil, ErrAlreadyCaptured
		}
	}
	return m.insert(appointmentID, KindCapture, amount, currency, &methodRef, nil), nil
}

func (m *memRepo) InsertPendingRefund(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, currency, reason string) (*Log, error) {
	capture, err := m.GetCapture(ctx, appointmentID)
	if err != nil {
		return nil, ErrNothingToRefund
	}
	if currency != "" && currency != capture.Currency {
		return nil, ErrCurrencyMismatch
	}

	reserved := decimal.Zero
	for _, l := range m.logs {
		if l.AppointmentID == appointmentID && l.Kind == KindRefund && l.Status != LogFailed {
			reserved = reserved.Add(l.Amount)
		}
	}
	if reserved.Add(amount).GreaterThan(capture.Amount) {
		return nil, ErrExceedsCapturedAmount
	}

	return m.insert(appointmentID, KindRefund, amount, capture.Currency, nil, &reason), nil
}

func (m *memRepo) insert(appointmentID uuid.UUID, kind Kind, amount decimal.Decimal, currency string, methodRef, reason *string) *Log {
	l := Log{
		ID:               m.nextID,
		AppointmentID:    appointmentID,
		Kind:             kind,
		Status:           LogPending,
		Amount:           amount,
		Currency:         currency,
		PaymentMethodRef: methodRef,
		Reason:           reason,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	m.nextID++
	m.logs = append(m.logs, l)
	return &l
}

func (m *memRepo) MarkOutcome(ctx context.Context, id int64, status LogStatus, transactionID, reason *string) (*Log, error) {
	for i := range m.logs {
		if m.logs[i].ID == id && m.logs[i].Status == LogPending {
			m.logs[i].Status = status
			if transactionID != nil {
				m.logs[i].TransactionID = transactionID
			}
			if reason != nil {
				m.logs[i].Reason = reason
			}
			m.logs[i].UpdatedAt = time.Now()
			out := m.logs[i]
			return &out, nil
		}
	}
	return nil, ErrLogNotFound
}

func (m *memRepo) GetCapture(ctx context.Context, appointmentID uuid.UUID) (*Log, error) {
	for i := range m.logs {
		if m.logs[i].AppointmentID == appointmentID && m.logs[i].Kind == KindCapture && m.logs[i].Status == LogSucceeded {
			out := m.logs[i]
			return &out, nil
		}
	}
	return nil, ErrLogNotFound
}

func (m *memRepo) SumRefunds(ctx context.Context, appointmentID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, l := range m.logs {
		if l.AppointmentID == appointmentID && l.Kind == KindRefund && l.Status == LogSucceeded {
			total = total.Add(l.Amount)
		}
	}
	return total, nil
}

func (m *memRepo) List(ctx context.Context, appointmentID uuid.UUID) ([]Log, error) {
	var out []Log
	for _, l := range m.logs {
		if l.AppointmentID == appointmentID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeGateway struct {
	declineAll bool
	failAll    bool
	charges    int
	refunds    int
}

func (g *fakeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	g.charges++
	if g.failAll {
		return nil, ErrGatewayUnavailable
	}
	if g.declineAll {
		return &ChargeResult{Declined: true, DeclineReason: "insufficient funds"}, nil
	}
	return &ChargeResult{TransactionID: fmt.Sprintf("txn-%d", g.charges)}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	g.refunds++
	if g.failAll {
		return nil, ErrGatewayUnavailable
	}
	return &RefundResult{TransactionID: fmt.Sprintf("rfn-%d", g.refunds)}, nil
}

func newTestLedger(gw Gateway) (*Ledger, *memRepo) {
	repo := newMemRepo()
	return NewLedger(repo, gw, zap.NewNop()), repo
}

func TestCaptureSucceeds(t *testing.T) {
	ledger, repo := newTestLedger(&fakeGateway{})
	apptID := uuid.New()

	entry, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if entry.Status != LogSucceeded {
		t.Errorf("status = %s, want succeeded", entry.Status)
	}
	if entry.TransactionID == nil {
		t.Error("transaction id not recorded")
	}

	amount, currency, err := ledger.CapturedAmount(context.Background(), apptID)
	if err != nil {
		t.Fatalf("CapturedAmount: %v", err)
	}
	if !amount.Equal(dec("100")) || currency != "USD" {
		t.Errorf("captured = %s %s, want 100 USD", amount, currency)
	}

	if len(repo.logs) != 1 {
		t.Errorf("log rows = %d, want 1", len(repo.logs))
	}
}

func TestCaptureTwiceRejected(t *testing.T) {
	ledger, _ := newTestLedger(&fakeGateway{})
	apptID := uuid.New()

	if _, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1"); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if _, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1"); !errors.Is(err, ErrAlreadyCaptured) {
		t.Errorf("second capture: want ErrAlreadyCaptured, got %v", err)
	}
}

func TestCaptureDeclinedSettlesFailed(t *testing.T) {
	gw := &fakeGateway{declineAll: true}
	ledger, repo := newTestLedger(gw)
	apptID := uuid.New()

	_, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1")
	if !errors.Is(err, ErrPaymentDeclined) {
		t.Fatalf("want ErrPaymentDeclined, got %v", err)
	}

	if len(repo.logs) != 1 || repo.logs[0].Status != LogFailed {
		t.Fatalf("declined capture not settled as failed: %+v", repo.logs)
	}

	// The failed row does not block a retry.
	gw.declineAll = false
	if _, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1"); err != nil {
		t.Fatalf("retry after decline: %v", err)
	}
}

func TestCaptureGatewayDownSettlesFailed(t *testing.T) {
	ledger, repo := newTestLedger(&fakeGateway{failAll: true})
	apptID := uuid.New()

	_, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("want ErrGatewayUnavailable, got %v", err)
	}
	if repo.logs[0].Status != LogFailed {
		t.Errorf("status = %s, want failed", repo.logs[0].Status)
	}
}

func TestRefundWithoutCapture(t *testing.T) {
	ledger, _ := newTestLedger(&fakeGateway{})

	if _, err := ledger.Refund(context.Background(), uuid.New(), dec("50"), "", "test"); !errors.Is(err, ErrNothingToRefund) {
		t.Errorf("want ErrNothingToRefund, got %v", err)
	}
}

func TestRefundPartialThenRemainder(t *testing.T) {
	ledger, _ := newTestLedger(&fakeGateway{})
	apptID := uuid.New()

	if _, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1"); err != nil {
		t.Fatalf("capture: %v", err)
	}

	if _, err := ledger.Refund(context.Background(), apptID, dec("30"), "", "partial"); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if _, err := ledger.Refund(context.Background(), apptID, dec("70"), "", "remainder"); err != nil {
		t.Fatalf("remainder refund: %v", err)
	}

	total, err := ledger.RefundedTotal(context.Background(), apptID)
	if err != nil {
		t.Fatalf("RefundedTotal: %v", err)
	}
	if !total.Equal(dec("100")) {
		t.Errorf("refunded total = %s, want 100", total)
	}

	// Everything is back already.
	if _, err := ledger.Refund(context.Background(), apptID, dec("1"), "", "too much"); !errors.Is(err, ErrExceedsCapturedAmount) {
		t.Errorf("want ErrExceedsCapturedAmount, got %v", err)
	}
}

func TestRefundExceedingCapture(t *testing.T) {
	ledger, _ := newTestLedger(&fakeGateway{})
	apptID := uuid.New()

	if _, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := ledger.Refund(context.Background(), apptID, dec("150"), "", "too much"); !errors.Is(err, ErrExceedsCapturedAmount) {
		t.Errorf("want ErrExceedsCapturedAmount, got %v", err)
	}
}

func TestRefundCurrencyMismatch(t *testing.T) {
	ledger, _ := newTestLedger(&fakeGateway{})
	apptID := uuid.New()

	if _, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := ledger.Refund(context.Background(), apptID, dec("50"), "EUR", "wrong currency"); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("want ErrCurrencyMismatch, got %v", err)
	}
}

func TestLedgerOrderingPreserved(t *testing.T) {
	ledger, _ := newTestLedger(&fakeGateway{})
	apptID := uuid.New()

	if _, err := ledger.Capture(context.Background(), apptID, dec("100"), "USD", "card-1"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := ledger.Refund(context.Background(), apptID, dec("40"), "", "first"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := ledger.Refund(context.Background(), apptID, dec("60"), "", "second"); err != nil {
		t.Fatalf("refund: %v", err)
	}

	logs, err := ledger.Logs(context.Background(), apptID)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("log rows = %d, want 3", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].ID <= logs[i-1].ID {
			t.Errorf("ledger ids out of order: %d after %d", logs[i].ID, logs[i-1].ID)
		}
	}
	if logs[0].Kind != KindCapture || logs[1].Kind != KindRefund || logs[2].Kind != KindRefund {
		t.Errorf("unexpected kinds: %s %s %s", logs[0].Kind, logs[1].Kind, logs[2].Kind)
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
