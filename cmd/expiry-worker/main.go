package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caresync/telehealth-backend/internal/appointment"
	"github.com/caresync/telehealth-backend/internal/config"
	"github.com/caresync/telehealth-backend/internal/db"
	"github.com/caresync/telehealth-backend/internal/fees"
	"github.com/caresync/telehealth-backend/internal/logger"
	"github.com/caresync/telehealth-backend/internal/meeting"
	"github.com/caresync/telehealth-backend/internal/payment"
	redisclient "github.com/caresync/telehealth-backend/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := logger.New(cfg.Env)
	defer log.Sync()

	log.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn("error closing redis", zap.Error(err))
		}
	}()
	log.Info("connected to Redis")

	// Expiry can trigger refunds, so the worker carries the full service
	// wiring including the payment gateway.
	paymentGateway := payment.NewHTTPGateway(cfg.PaymentGatewayURL, cfg.GatewayRetries, cfg.GatewayBackoff, log)
	ledger := payment.NewLedger(payment.NewPgRepository(pgPool), paymentGateway, log)
	meetingGateway := meeting.NewHTTPGateway(cfg.MeetingGatewayURL, cfg.GatewayRetries, cfg.GatewayBackoff, log)
	locker := redisclient.NewRedisAppointmentLocker(rdb, cfg.LockTTL)

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		ledger,
		fees.NewCalculator(fees.NewPgRepository(pgPool)),
		meetingGateway,
		locker,
		appointment.Config{
			BookingGraceWindow: cfg.BookingGraceWindow,
			CompletionTimeout:  cfg.CompletionTimeout,
		},
		log,
	)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	if err := svc.ExpirePendingAppointments(runCtx); err != nil {
		log.Error("expiry run error", zap.Error(err))
	}
	if err := svc.AutoCompleteOverdue(runCtx); err != nil {
		log.Error("auto-complete run error", zap.Error(err))
	}
	log.Info("worker run complete", zap.Duration("took", time.Since(start)))
}
