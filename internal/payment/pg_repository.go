package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const logColumns = `id, appointment_id, kind, status, amount, currency, payment_method_ref, transaction_id, reason, created_at, updated_at`

func scanLog(row pgx.Row) (*Log, error) {
	var l Log
	err := row.Scan(
		&l.ID,
		&l.AppointmentID,
		&l.Kind,
		&l.Status,
		&l.Amount,
		&l.Currency,
		&l.PaymentMethodRef,
		&l.TransactionID,
		&l.Reason,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLogNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *PgRepository) InsertPendingCapture(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, currency, methodRef string) (*Log, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin capture tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existing int64
	err = tx.QueryRow(ctx, `
		SELECT id
		FROM payment_logs
		WHERE appointment_id = $1 AND kind = 'capture' AND status <> 'failed'
		FOR UPDATE
	`, appointmentID).Scan(&existing)
	if err == nil {
		return nil, ErrAlreadyCaptured
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing capture: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO payment_logs (appointment_id, kind, status, amount, currency, payment_method_ref, created_at, updated_at)
		VALUES ($1, 'capture', 'pending', $2, $3, $4, now(), now())
		RETURNING `+logColumns+`
	`, appointmentID, amount, currency, methodRef)

	entry, err := scanLog(row)
	if err != nil {
		return nil, fmt.Errorf("insert pending capture: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit capture tx: %w", err)
	}

	return entry, nil
}

func (r *PgRepository) InsertPendingRefund(ctx context.Context, appointmentID uuid.UUID, amount decimal.Decimal, currency, reason string) (*Log, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the capture row so two refund reservations serialize.
	var capturedAmount decimal.Decimal
	var capturedCurrency string
	err = tx.QueryRow(ctx, `
		SELECT amount, currency
		FROM payment_logs
		WHERE appointment_id = $1 AND kind = 'capture' AND status = 'succeeded'
		FOR UPDATE
	`, appointmentID).Scan(&capturedAmount, &capturedCurrency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNothingToRefund
		}
		return nil, fmt.Errorf("lock capture row: %w", err)
	}

	if currency != "" && currency != capturedCurrency {
		return nil, ErrCurrencyMismatch
	}

	var refunded decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payment_logs
		WHERE appointment_id = $1 AND kind = 'refund' AND status <> 'failed'
	`, appointmentID).Scan(&refunded)
	if err != nil {
		return nil, fmt.Errorf("sum prior refunds: %w", err)
	}

	if refunded.Add(amount).GreaterThan(capturedAmount) {
		return nil, ErrExceedsCapturedAmount
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO payment_logs (appointment_id, kind, status, amount, currency, reason, created_at, updated_at)
		VALUES ($1, 'refund', 'pending', $2, $3, $4, now(), now())
		RETURNING `+logColumns+`
	`, appointmentID, amount, capturedCurrency, reason)

	entry, err := scanLog(row)
	if err != nil {
		return nil, fmt.Errorf("insert pending refund: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit refund tx: %w", err)
	}

	return entry, nil
}

func (r *PgRepository) MarkOutcome(ctx context.Context, id int64, status LogStatus, transactionID, reason *string) (*Log, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE payment_logs
		SET status = $2,
		    transaction_id = COALESCE($3, transaction_id),
		    reason = COALESCE($4, reason),
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+logColumns+`
	`, id, status, transactionID, reason)

	return scanLog(row)
}

func (r *PgRepository) GetCapture(ctx context.Context, appointmentID uuid.UUID) (*Log, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+logColumns+`
		FROM payment_logs
		WHERE appointment_id = $1 AND kind = 'capture' AND status = 'succeeded'
	`, appointmentID)
	return scanLog(row)
}

func (r *PgRepository) SumRefunds(ctx context.Context, appointmentID uuid.UUID) (decimal.Decimal, error) {
	var refunded decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payment_logs
		WHERE appointment_id = $1 AND kind = 'refund' AND status = 'succeeded'
	`, appointmentID).Scan(&refunded)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum refunds: %w", err)
	}
	return refunded, nil
}

func (r *PgRepository) List(ctx context.Context, appointmentID uuid.UUID) ([]Log, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+logColumns+`
		FROM payment_logs
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
