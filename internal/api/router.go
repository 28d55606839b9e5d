package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caresync/telehealth-backend/internal/appointment"
)

type RouterConfig struct {
	Service *appointment.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment lifecycle
	r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	r.Get("/appointments", listAppointmentsHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/payment", capturePaymentHandler(cfg.Service))
	r.Post("/appointments/{id}/accept", acceptAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/reject", rejectAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/start", startMeetingHandler(cfg.Service))
	r.Post("/appointments/{id}/token", meetingTokenHandler(cfg.Service))
	r.Post("/appointments/{id}/end", endMeetingHandler(cfg.Service))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/refund", refundAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}/payments", listPaymentLogsHandler(cfg.Service))

	// Participants and invitations
	r.Get("/appointments/{id}/participants", listParticipantsHandler(cfg.Service))
	r.Post("/appointments/{id}/participants", addParticipantHandler(cfg.Service))
	r.Post("/appointments/{id}/invitations", inviteExternalHandler(cfg.Service))
	r.Post("/invitations/{id}/respond", respondInvitationHandler(cfg.Service))
	r.Post("/participants/{id}/join", participantJoinHandler(cfg.Service))
	r.Post("/participants/{id}/leave", participantLeaveHandler(cfg.Service))

	return r
}
