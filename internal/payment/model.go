package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindCapture Kind = "capture"
	KindRefund  Kind = "refund"
)

type LogStatus string

const (
	LogPending   LogStatus = "pending"
	LogSucceeded LogStatus = "succeeded"
	LogFailed    LogStatus = "failed"
)

// Log is one row of the append-only payment ledger. Rows are inserted as
// pending before the gateway is called; the only later mutation is the
// pending -> succeeded/failed outcome. The bigserial ID preserves
// per-appointment ordering.
type Log struct {
	ID               int64
	AppointmentID    uuid.UUID
	Kind             Kind
	Status           LogStatus
	Amount           decimal.Decimal
	Currency         string
	PaymentMethodRef *string
	TransactionID    *string
	Reason           *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Settled reports whether the row reached a terminal outcome.
func (l *Log) Settled() bool {
	return l.Status == LogSucceeded || l.Status == LogFailed
}
