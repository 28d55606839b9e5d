package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/caresync/telehealth-backend/internal/db"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	categoryIDs, err := seedCategories(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed categories: %v", err)
	}
	providerIDs, err := seedProviders(context.Background(), pool, 100)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	patientIDs, err := seedPatients(context.Background(), pool, 9000)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedProviderFees(context.Background(), pool, providerIDs, categoryIDs); err != nil {
		log.Fatalf("seed provider fees: %v", err)
	}
	if err := seedSubscriptions(context.Background(), pool, patientIDs, categoryIDs, 500); err != nil {
		log.Fatalf("seed subscriptions: %v", err)
	}

	log.Println("seed complete")
}

func seedCategories(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	log.Printf("seeding %d consultation categories", len(specialties))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(specialties))
	for _, name := range specialties {
		id := uuid.New()
		base := decimal.NewFromInt(int64(gofakeit.Number(40, 180)))
		minFee := base.Mul(decimal.NewFromFloat(0.5)).Round(2)
		maxFee := base.Mul(decimal.NewFromFloat(2.5)).Round(2)

		_, err := tx.Exec(ctx, `
			INSERT INTO category_pricing (category_id, name, consultation_fee, min_fee, max_fee, currency, active)
			VALUES ($1, $2, $3, $4, $5, 'USD', true)
		`, id, name, base, minFee, maxFee)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("categories seeded")
	return ids, nil
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d providers", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, specialty)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("providers seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d patients", count)

	const batchSize = 500
	ids := make([]uuid.UUID, 0, count)

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return ids, nil
}

// seedProviderFees gives roughly a third of providers an approved override in
// one random category.
func seedProviderFees(ctx context.Context, pool *pgxpool.Pool, providerIDs, categoryIDs []uuid.UUID) error {
	log.Println("seeding provider fee overrides")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, providerID := range providerIDs {
		if gofakeit.Number(0, 2) != 0 {
			continue
		}
		categoryID := categoryIDs[gofakeit.Number(0, len(categoryIDs)-1)]
		fee := decimal.NewFromInt(int64(gofakeit.Number(30, 400)))

		_, err := tx.Exec(ctx, `
			INSERT INTO provider_fees (provider_id, category_id, fee, approved)
			VALUES ($1, $2, $3, true)
		`, providerID, categoryID, fee)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("provider fee overrides seeded")
	return nil
}

func seedSubscriptions(ctx context.Context, pool *pgxpool.Pool, patientIDs, categoryIDs []uuid.UUID, count int) error {
	log.Printf("seeding %d subscriptions", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	for i := 0; i < count && i < len(patientIDs); i++ {
		patientID := patientIDs[gofakeit.Number(0, len(patientIDs)-1)]
		categoryID := categoryIDs[gofakeit.Number(0, len(categoryIDs)-1)]
		discount := gofakeit.Number(10, 100)

		_, err := tx.Exec(ctx, `
			INSERT INTO subscriptions (id, patient_id, category_id, discount_percent, active, period_start, period_end)
			VALUES ($1, $2, $3, $4, true, $5, $6)
		`, uuid.New(), patientID, categoryID, discount, now.AddDate(0, -1, 0), now.AddDate(0, 11, 0))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("subscriptions seeded")
	return nil
}
