package fees

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) GetCategoryPricing(ctx context.Context, categoryID uuid.UUID) (*CategoryPricing, error) {
	var p CategoryPricing
	err := r.pool.QueryRow(ctx, `
		SELECT category_id, name, consultation_fee, min_fee, max_fee, currency, active
		FROM category_pricing
		WHERE category_id = $1
	`, categoryID).Scan(
		&p.CategoryID,
		&p.Name,
		&p.ConsultationFee,
		&p.MinFee,
		&p.MaxFee,
		&p.Currency,
		&p.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: category %s", ErrPricingNotFound, categoryID)
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetApprovedProviderFee(ctx context.Context, providerID, categoryID uuid.UUID) (*ProviderFee, error) {
	var f ProviderFee
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id, category_id, fee, approved
		FROM provider_fees
		WHERE provider_id = $1 AND category_id = $2 AND approved = true
	`, providerID, categoryID).Scan(
		&f.ProviderID,
		&f.CategoryID,
		&f.Fee,
		&f.Approved,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *PgRepository) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	var s Subscription
	err := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, category_id, discount_percent, active, period_start, period_end
		FROM subscriptions
		WHERE id = $1
	`, id).Scan(
		&s.ID,
		&s.PatientID,
		&s.CategoryID,
		&s.DiscountPercent,
		&s.Active,
		&s.PeriodStart,
		&s.PeriodEnd,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: subscription %s", ErrPricingNotFound, id)
		}
		return nil, err
	}
	return &s, nil
}
