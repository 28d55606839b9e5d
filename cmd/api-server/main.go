package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caresync/telehealth-backend/internal/api"
	"github.com/caresync/telehealth-backend/internal/appointment"
	"github.com/caresync/telehealth-backend/internal/config"
	"github.com/caresync/telehealth-backend/internal/db"
	"github.com/caresync/telehealth-backend/internal/fees"
	"github.com/caresync/telehealth-backend/internal/logger"
	"github.com/caresync/telehealth-backend/internal/meeting"
	"github.com/caresync/telehealth-backend/internal/payment"
	redisclient "github.com/caresync/telehealth-backend/internal/redis"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := logger.New(cfg.Env)
	defer log.Sync()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort))

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

	// Apply migrations
	migrator, err := db.NewMigrator(pgPool, cfg.MigrationsDir)
	if err != nil {
		log.Fatal("migrator init error", zap.Error(err))
	}
	if err := migrator.Run(rootCtx); err != nil {
		log.Fatal("migration error", zap.Error(err))
	}
	if v, err := migrator.Version(rootCtx); err == nil {
		log.Info("migrations applied", zap.Int64("version", v))
	}
	if err := migrator.Close(); err != nil {
		log.Warn("error closing migrator", zap.Error(err))
	}

	// Connect Redis
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

	locker := redisclient.NewRedisAppointmentLocker(rdb, cfg.LockTTL)

	paymentGateway := payment.NewHTTPGateway(cfg.PaymentGatewayURL, cfg.GatewayRetries, cfg.GatewayBackoff, log)
	ledger := payment.NewLedger(payment.NewPgRepository(pgPool), paymentGateway, log)

	meetingGateway := meeting.NewHTTPGateway(cfg.MeetingGatewayURL, cfg.GatewayRetries, cfg.GatewayBackoff, log)

	calculator := fees.NewCalculator(fees.NewPgRepository(pgPool))

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		ledger,
		calculator,
		meetingGateway,
		locker,
		appointment.Config{
			BookingGraceWindow: cfg.BookingGraceWindow,
			CompletionTimeout:  cfg.CompletionTimeout,
		},
		log,
	)

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  log,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
