package fees

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type mockRepo struct {
	pricing       map[uuid.UUID]*CategoryPricing
	providerFees  map[string]*ProviderFee
	subscriptions map[uuid.UUID]*Subscription
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		pricing:       make(map[uuid.UUID]*CategoryPricing),
		providerFees:  make(map[string]*ProviderFee),
		subscriptions: make(map[uuid.UUID]*Subscription),
	}
}

func feeKey(providerID, categoryID uuid.UUID) string {
	return providerID.String() + "/" + categoryID.String()
}

func (m *mockRepo) GetCategoryPricing(ctx context.Context, categoryID uuid.UUID) (*CategoryPricing, error) {
	p, ok := m.pricing[categoryID]
	if !ok {
		return nil, ErrPricingNotFound
	}
	return p, nil
}

func (m *mockRepo) GetApprovedProviderFee(ctx context.Context, providerID, categoryID uuid.UUID) (*ProviderFee, error) {
	f, ok := m.providerFees[feeKey(providerID, categoryID)]
	if !ok || !f.Approved {
		return nil, nil
	}
	return f, nil
}

func (m *mockRepo) GetSubscriptionByID(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, ErrPricingNotFound
	}
	return s, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCalculateFeeListPrice(t *testing.T) {
	repo := newMockRepo()
	categoryID := uuid.New()
	repo.pricing[categoryID] = &CategoryPricing{
		CategoryID:      categoryID,
		ConsultationFee: dec("100"),
		MinFee:          dec("50"),
		MaxFee:          dec("250"),
		Currency:        "USD",
		Active:          true,
	}

	calc := NewCalculator(repo)
	quote, err := calc.CalculateFee(context.Background(), uuid.New(), uuid.New(), categoryID, nil, time.Now())
	if err != nil {
		t.Fatalf("CalculateFee: %v", err)
	}
	if !quote.Amount.Equal(dec("100")) {
		t.Errorf("amount = %s, want 100", quote.Amount)
	}
	if quote.Currency != "USD" {
		t.Errorf("currency = %s, want USD", quote.Currency)
	}
	if quote.SubscriptionApplied {
		t.Error("subscription should not be applied")
	}
}

func TestCalculateFeeOverrideClamped(t *testing.T) {
	repo := newMockRepo()
	categoryID := uuid.New()
	providerID := uuid.New()
	repo.pricing[categoryID] = &CategoryPricing{
		CategoryID:      categoryID,
		ConsultationFee: dec("100"),
		MinFee:          dec("50"),
		MaxFee:          dec("250"),
		Currency:        "USD",
		Active:          true,
	}

	calc := NewCalculator(repo)

	cases := []struct {
		override string
		want     string
	}{
		{"80", "80"},   // inside the band
		{"10", "50"},   // below min, clamped up
		{"900", "250"}, // above max, clamped down
	}

	for _, c := range cases {
		repo.providerFees[feeKey(providerID, categoryID)] = &ProviderFee{
			ProviderID: providerID,
			CategoryID: categoryID,
			Fee:        dec(c.override),
			Approved:   true,
		}

		quote, err := calc.CalculateFee(context.Background(), uuid.New(), providerID, categoryID, nil, time.Now())
		if err != nil {
			t.Fatalf("CalculateFee(override=%s): %v", c.override, err)
		}
		if !quote.Amount.Equal(dec(c.want)) {
			t.Errorf("override %s: amount = %s, want %s", c.override, quote.Amount, c.want)
		}
	}
}

func TestCalculateFeeUnapprovedOverrideIgnored(t *testing.T) {
	repo := newMockRepo()
	categoryID := uuid.New()
	providerID := uuid.New()
	repo.pricing[categoryID] = &CategoryPricing{
		CategoryID:      categoryID,
		ConsultationFee: dec("100"),
		MinFee:          dec("50"),
		MaxFee:          dec("250"),
		Currency:        "USD",
		Active:          true,
	}
	repo.providerFees[feeKey(providerID, categoryID)] = &ProviderFee{
		ProviderID: providerID,
		CategoryID: categoryID,
		Fee:        dec("200"),
		Approved:   false,
	}

	calc := NewCalculator(repo)
	quote, err := calc.CalculateFee(context.Background(), uuid.New(), providerID, categoryID, nil, time.Now())
	if err != nil {
		t.Fatalf("CalculateFee: %v", err)
	}
	if !quote.Amount.Equal(dec("100")) {
		t.Errorf("amount = %s, want list price 100", quote.Amount)
	}
}

func TestCalculateFeeSubscriptionDiscount(t *testing.T) {
	repo := newMockRepo()
	categoryID := uuid.New()
	patientID := uuid.New()
	now := time.Now()

	repo.pricing[categoryID] = &CategoryPricing{
		CategoryID:      categoryID,
		ConsultationFee: dec("100"),
		MinFee:          dec("50"),
		MaxFee:          dec("250"),
		Currency:        "USD",
		Active:          true,
	}

	subID := uuid.New()
	repo.subscriptions[subID] = &Subscription{
		ID:              subID,
		PatientID:       patientID,
		CategoryID:      categoryID,
		DiscountPercent: dec("25"),
		Active:          true,
		PeriodStart:     now.Add(-time.Hour),
		PeriodEnd:       now.Add(time.Hour),
	}

	calc := NewCalculator(repo)
	quote, err := calc.CalculateFee(context.Background(), patientID, uuid.New(), categoryID, &subID, now)
	if err != nil {
		t.Fatalf("CalculateFee: %v", err)
	}
	if !quote.Amount.Equal(dec("75")) {
		t.Errorf("amount = %s, want 75", quote.Amount)
	}
	if !quote.SubscriptionApplied {
		t.Error("SubscriptionApplied = false, want true")
	}
}

func TestCalculateFeeFullCoverageIsZero(t *testing.T) {
	repo := newMockRepo()
	categoryID := uuid.New()
	patientID := uuid.New()
	now := time.Now()

	repo.pricing[categoryID] = &CategoryPricing{
		CategoryID:      categoryID,
		ConsultationFee: dec("100"),
		MinFee:          dec("50"),
		MaxFee:          dec("250"),
		Currency:        "USD",
		Active:          true,
	}

	subID := uuid.New()
	repo.subscriptions[subID] = &Subscription{
		ID:              subID,
		PatientID:       patientID,
		CategoryID:      categoryID,
		DiscountPercent: dec("100"),
		Active:          true,
		PeriodStart:     now.Add(-time.Hour),
		PeriodEnd:       now.Add(time.Hour),
	}

	calc := NewCalculator(repo)
	quote, err := calc.CalculateFee(context.Background(), patientID, uuid.New(), categoryID, &subID, now)
	if err != nil {
		t.Fatalf("CalculateFee: %v", err)
	}
	if !quote.Amount.IsZero() {
		t.Errorf("amount = %s, want 0", quote.Amount)
	}
}

func TestCalculateFeeSubscriptionNotApplicable(t *testing.T) {
	repo := newMockRepo()
	categoryID := uuid.New()
	otherCategory := uuid.New()
	patientID := uuid.New()
	now := time.Now()

	for _, id := range []uuid.UUID{categoryID, otherCategory} {
		repo.pricing[id] = &CategoryPricing{
			CategoryID:      id,
			ConsultationFee: dec("100"),
			MinFee:          dec("50"),
			MaxFee:          dec("250"),
			Currency:        "USD",
			Active:          true,
		}
	}

	subID := uuid.New()
	repo.subscriptions[subID] = &Subscription{
		ID:              subID,
		PatientID:       patientID,
		CategoryID:      otherCategory,
		DiscountPercent: dec("100"),
		Active:          true,
		PeriodStart:     now.Add(-time.Hour),
		PeriodEnd:       now.Add(time.Hour),
	}

	calc := NewCalculator(repo)
	if _, err := calc.CalculateFee(context.Background(), patientID, uuid.New(), categoryID, &subID, now); !errors.Is(err, ErrSubscriptionNotApplicable) {
		t.Errorf("wrong category: want ErrSubscriptionNotApplicable, got %v", err)
	}

	// Expired period
	repo.subscriptions[subID].CategoryID = categoryID
	repo.subscriptions[subID].PeriodEnd = now.Add(-time.Minute)
	if _, err := calc.CalculateFee(context.Background(), patientID, uuid.New(), categoryID, &subID, now); !errors.Is(err, ErrSubscriptionNotApplicable) {
		t.Errorf("expired period: want ErrSubscriptionNotApplicable, got %v", err)
	}
}

func TestCalculateFeeInactiveCategory(t *testing.T) {
	repo := newMockRepo()
	categoryID := uuid.New()
	repo.pricing[categoryID] = &CategoryPricing{
		CategoryID:      categoryID,
		ConsultationFee: dec("100"),
		MinFee:          dec("50"),
		MaxFee:          dec("250"),
		Currency:        "USD",
		Active:          false,
	}

	calc := NewCalculator(repo)
	if _, err := calc.CalculateFee(context.Background(), uuid.New(), uuid.New(), categoryID, nil, time.Now()); !errors.Is(err, ErrPricingNotFound) {
		t.Errorf("want ErrPricingNotFound, got %v", err)
	}
}

func TestCalculateFeeInconsistentBand(t *testing.T) {
	repo := newMockRepo()
	categoryID := uuid.New()
	repo.pricing[categoryID] = &CategoryPricing{
		CategoryID:      categoryID,
		ConsultationFee: dec("100"),
		MinFee:          dec("300"),
		MaxFee:          dec("250"),
		Currency:        "USD",
		Active:          true,
	}

	calc := NewCalculator(repo)
	if _, err := calc.CalculateFee(context.Background(), uuid.New(), uuid.New(), categoryID, nil, time.Now()); !errors.Is(err, ErrInvalidPricing) {
		t.Errorf("want ErrInvalidPricing, got %v", err)
	}
}

func TestCalculateFeeMissingCategory(t *testing.T) {
	calc := NewCalculator(newMockRepo())
	if _, err := calc.CalculateFee(context.Background(), uuid.New(), uuid.New(), uuid.New(), nil, time.Now()); !errors.Is(err, ErrPricingNotFound) {
		t.Errorf("want ErrPricingNotFound, got %v", err)
	}
}
