package fees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrPricingNotFound           = errors.New("pricing data not found")
	ErrInvalidPricing            = errors.New("category fee range is inconsistent")
	ErrSubscriptionNotApplicable = errors.New("subscription does not cover this booking")
)

// CategoryPricing is the list price for one consultation category.
type CategoryPricing struct {
	CategoryID      uuid.UUID
	Name            string
	ConsultationFee decimal.Decimal
	MinFee          decimal.Decimal
	MaxFee          decimal.Decimal
	Currency        string
	Active          bool
}

// ProviderFee is an approved fee negotiated by one provider for a category.
type ProviderFee struct {
	ProviderID uuid.UUID
	CategoryID uuid.UUID
	Fee        decimal.Decimal
	Approved   bool
}

// Subscription entitles a patient to free or discounted consultations for a
// category within its period. DiscountPercent of 100 means fully covered.
type Subscription struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	CategoryID      uuid.UUID
	DiscountPercent decimal.Decimal
	Active          bool
	PeriodStart     time.Time
	PeriodEnd       time.Time
}

func (s *Subscription) Covers(patientID, categoryID uuid.UUID, at time.Time) bool {
	return s.Active &&
		s.PatientID == patientID &&
		s.CategoryID == categoryID &&
		!at.Before(s.PeriodStart) &&
		at.Before(s.PeriodEnd)
}

// Repository looks up the pricing inputs.
type Repository interface {
	GetCategoryPricing(ctx context.Context, categoryID uuid.UUID) (*CategoryPricing, error)
	// GetApprovedProviderFee returns nil without error when the provider has
	// no approved override for the category.
	GetApprovedProviderFee(ctx context.Context, providerID, categoryID uuid.UUID) (*ProviderFee, error)
	GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
}

// Quote is the outcome of a fee calculation, fixed at booking time.
type Quote struct {
	Amount              decimal.Decimal
	Currency            string
	SubscriptionApplied bool
}

// Calculator derives the appointment fee from category pricing, provider
// overrides and subscription entitlements. It is pure with respect to
// appointment state.
type Calculator struct {
	repo Repository
}

func NewCalculator(repo Repository) *Calculator {
	return &Calculator{repo: repo}
}

// CalculateFee resolves the fee for one booking. subscriptionID may be nil
// for a one-time-paid appointment; when set, the subscription entitlement
// replaces the list price.
func (c *Calculator) CalculateFee(ctx context.Context, patientID, providerID, categoryID uuid.UUID, subscriptionID *uuid.UUID, at time.Time) (*Quote, error) {
	pricing, err := c.repo.GetCategoryPricing(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if !pricing.Active {
		return nil, fmt.Errorf("%w: category %s is inactive", ErrPricingNotFound, categoryID)
	}
	if pricing.MinFee.GreaterThan(pricing.MaxFee) {
		return nil, fmt.Errorf("%w: min %s > max %s for category %s",
			ErrInvalidPricing, pricing.MinFee, pricing.MaxFee, categoryID)
	}

	fee := pricing.ConsultationFee

	override, err := c.repo.GetApprovedProviderFee(ctx, providerID, categoryID)
	if err != nil {
		return nil, fmt.Errorf("load provider fee: %w", err)
	}
	if override != nil {
		fee = clamp(override.Fee, pricing.MinFee, pricing.MaxFee)
	}

	if subscriptionID == nil {
		return &Quote{Amount: fee, Currency: pricing.Currency}, nil
	}

	sub, err := c.repo.GetSubscriptionByID(ctx, *subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.Covers(patientID, categoryID, at) {
		return nil, ErrSubscriptionNotApplicable
	}

	discount := fee.Mul(sub.DiscountPercent).Div(decimal.NewFromInt(100))
	discounted := fee.Sub(discount)
	if discounted.IsNegative() {
		discounted = decimal.Zero
	}

	return &Quote{
		Amount:              discounted,
		Currency:            pricing.Currency,
		SubscriptionApplied: true,
	}, nil
}

func clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
