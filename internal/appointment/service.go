package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/caresync/telehealth-backend/internal/fees"
	"github.com/caresync/telehealth-backend/internal/meeting"
	"github.com/caresync/telehealth-backend/internal/payment"
	redisclient "github.com/caresync/telehealth-backend/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentApproved  = "APPOINTMENT_APPROVED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"
	EventAppointmentScheduled = "APPOINTMENT_SCHEDULED"
	EventAppointmentExpired   = "APPOINTMENT_EXPIRED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentAutoDone  = "APPOINTMENT_AUTO_COMPLETED"
	EventAppointmentRefunded  = "APPOINTMENT_REFUNDED"
	EventPaymentCaptured      = "PAYMENT_CAPTURED"
	EventPaymentFailed        = "PAYMENT_FAILED"
	EventRefundIssued         = "REFUND_ISSUED"
	EventMeetingStarted       = "MEETING_STARTED"
	EventMeetingEnded         = "MEETING_ENDED"
	EventParticipantAdded     = "PARTICIPANT_ADDED"
	EventParticipantInvited   = "PARTICIPANT_INVITED"
	EventParticipantJoined    = "PARTICIPANT_JOINED"
	EventParticipantLeft      = "PARTICIPANT_LEFT"
	EventInvitationAccepted   = "INVITATION_ACCEPTED"
	EventInvitationDeclined   = "INVITATION_DECLINED"
	EventInvitationExpired    = "INVITATION_EXPIRED"
)

var (
	ErrForbidden          = errors.New("actor is not allowed to perform this action")
	ErrNothingToCapture   = errors.New("appointment fee is fully covered, nothing to capture")
	ErrNotJoined          = errors.New("participant has not joined")
	ErrInvitationResolved = errors.New("invitation already responded to")
	ErrInvitationExpired  = errors.New("invitation expired")
	ErrExternalContact    = errors.New("an external invite needs an email or phone")
	ErrAppointmentBusy    = errors.New("appointment is being modified, please retry")
)

type Config struct {
	BookingGraceWindow time.Duration // provider response window for pending bookings
	CompletionTimeout  time.Duration // auto-complete window after a meeting ends
	TransitionRetries  int           // CAS attempts before surfacing a conflict
}

type BookRequest struct {
	PatientID       uuid.UUID
	ProviderID      uuid.UUID
	CategoryID      uuid.UUID
	SubscriptionID  *uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	ReasonForVisit  *string
}

// MeetingAccess is returned by StartMeeting: the opened session plus a join
// token for the initiating provider.
type MeetingAccess struct {
	SessionID string
	Token     string
}

// Service is the appointment state machine. It is the only component allowed
// to mutate appointment status; the fee calculator, the payment ledger, the
// meeting gateway and the event log all act on its decisions.
type Service struct {
	repo     Repository
	ledger   *payment.Ledger
	fees     *fees.Calculator
	meetings meeting.SessionGateway
	locker   redisclient.Locker
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	repo Repository,
	ledger *payment.Ledger,
	calc *fees.Calculator,
	meetings meeting.SessionGateway,
	locker redisclient.Locker,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.TransitionRetries <= 0 {
		cfg.TransitionRetries = 3
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		fees:     calc,
		meetings: meetings,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Book creates an appointment in Pending: fee fixed now, patient and provider
// registered as participants, expiry clock started. Payment is a separate,
// subsequent call.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		return nil, err
	}

	now := s.now()
	quote, err := s.fees.CalculateFee(ctx, req.PatientID, req.ProviderID, req.CategoryID, req.SubscriptionID, now)
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.cfg.BookingGraceWindow)
	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		ProviderID:      req.ProviderID,
		CategoryID:      req.CategoryID,
		SubscriptionID:  req.SubscriptionID,
		Status:          StatusPending,
		Fee:             quote.Amount,
		Currency:        quote.Currency,
		RefundAmount:    decimal.Zero,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		ReasonForVisit:  req.ReasonForVisit,
		ExpiresAt:       &expiresAt,
	}

	if err := s.repo.Create(ctx, appt); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	for _, seed := range []struct {
		userID uuid.UUID
		role   ParticipantRole
	}{
		{req.PatientID, RolePatient},
		{req.ProviderID, RoleProvider},
	} {
		userID := seed.userID
		p := &Participant{
			ID:            uuid.New(),
			AppointmentID: appt.ID,
			UserID:        &userID,
			Role:          seed.role,
			Status:        ParticipantInvited,
		}
		if err := s.repo.AddParticipant(ctx, p); err != nil {
			return nil, fmt.Errorf("add %s participant: %w", seed.role, err)
		}
	}

	s.logEvent(ctx, appt.ID, &req.PatientID, EventAppointmentBooked, "appointment booked", map[string]any{
		"fee":                  quote.Amount.String(),
		"currency":             quote.Currency,
		"subscription_applied": quote.SubscriptionApplied,
		"expires_at":           expiresAt,
	})

	return appt, nil
}

// CapturePayment collects the booked fee. Accepted while Pending or Approved;
// an Approved appointment advances to Scheduled on success.
func (s *Service) CapturePayment(ctx context.Context, id uuid.UUID, methodRef string) (*Appointment, error) {
	appt, err := s.loadFresh(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != StatusPending && appt.Status != StatusApproved {
		return nil, ErrInvalidTransition
	}
	if appt.IsPaymentCaptured {
		return nil, payment.ErrAlreadyCaptured
	}
	if appt.Fee.IsZero() {
		return nil, ErrNothingToCapture
	}

	// Gateway I/O happens before any lock is taken.
	entry, err := s.ledger.Capture(ctx, appt.ID, appt.Fee, appt.Currency, methodRef)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentDeclined) {
			s.logEvent(ctx, appt.ID, nil, EventPaymentFailed, "payment declined", map[string]any{
				"amount": appt.Fee.String(),
				"reason": err.Error(),
			})
		}
		return nil, err
	}

	var updated *Appointment
	var orphanedCapture bool

	lockErr := s.locker.WithAppointmentLock(ctx, id, func(lockCtx context.Context) error {
		fresh, err := s.repo.GetByID(lockCtx, id)
		if err != nil {
			return err
		}
		if fresh.Status.Terminal() {
			orphanedCapture = true
			return ErrStatusConflict
		}

		captured := true
		updated, err = s.repo.UpdatePaymentFlags(lockCtx, id, PaymentFlags{Captured: &captured})
		if err != nil {
			return err
		}

		if fresh.Status == StatusApproved {
			updated, err = s.repo.UpdateStatus(lockCtx, id, StatusApproved, StatusScheduled, StatusChange{})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if lockErr != nil {
		if orphanedCapture {
			// The appointment reached a terminal status while the charge was
			// in flight. Return the money before reporting the conflict.
			if _, rerr := s.ledger.Refund(ctx, id, entry.Amount, "", "capture raced a terminal transition"); rerr != nil {
				s.logger.Error("failed to compensate orphaned capture",
					zap.String("appointment_id", id.String()),
					zap.Error(rerr))
			}
		}
		if errors.Is(lockErr, redisclient.ErrLockNotAcquired) {
			return nil, ErrAppointmentBusy
		}
		return nil, lockErr
	}

	s.logEvent(ctx, id, nil, EventPaymentCaptured, "payment captured", map[string]any{
		"amount":         entry.Amount.String(),
		"currency":       entry.Currency,
		"ledger_entry":   entry.ID,
		"transaction_id": entry.TransactionID,
	})
	if updated.Status == StatusScheduled {
		s.logEvent(ctx, id, nil, EventAppointmentScheduled, "appointment scheduled", nil)
	}

	return updated, nil
}

// ProviderAccept moves Pending to Approved. If the fee is already captured or
// fully covered by a subscription, it advances straight on to Scheduled.
func (s *Service) ProviderAccept(ctx context.Context, id, providerID uuid.UUID) (*Appointment, error) {
	appt, err := s.loadFresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.ProviderID != providerID {
		return nil, ErrForbidden
	}
	if _, err := Next(appt.Status, TransitionApprove); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.commit(ctx, id, StatusPending, StatusApproved, StatusChange{AcceptedAt: &now})
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, id, &providerID, EventAppointmentApproved, "provider accepted", nil)

	if appt.IsPaymentCaptured || appt.Fee.IsZero() {
		advanced, err := s.commit(ctx, id, StatusApproved, StatusScheduled, StatusChange{})
		if err != nil {
			// The accept itself committed; return it rather than masking it
			// behind the failed auto-advance.
			s.logger.Warn("accepted appointment could not auto-advance to scheduled",
				zap.String("appointment_id", id.String()),
				zap.Error(err))
			return updated, nil
		}
		updated = advanced
		s.logEvent(ctx, id, &providerID, EventAppointmentScheduled, "appointment scheduled", nil)
	}

	return updated, nil
}

// ProviderReject is terminal; any captured payment is refunded first.
func (s *Service) ProviderReject(ctx context.Context, id, providerID uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.loadFresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.ProviderID != providerID {
		return nil, ErrForbidden
	}

	now := s.now()
	return s.terminate(ctx, appt, TransitionReject, &providerID, reason,
		EventAppointmentRejected, StatusChange{RejectedAt: &now})
}

// Cancel is available to the patient or the provider while the appointment
// has not yet started. Terminal; refunds any captured payment first.
func (s *Service) Cancel(ctx context.Context, id, actorID uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.loadFresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if actorID != appt.PatientID && actorID != appt.ProviderID {
		return nil, ErrForbidden
	}

	now := s.now()
	return s.terminate(ctx, appt, TransitionCancel, &actorID, reason,
		EventAppointmentCancelled, StatusChange{CancelledAt: &now})
}

// StartMeeting opens the video session and moves Scheduled to InMeeting. The
// session is created before the status commit; if the commit loses a race the
// orphaned session is ended again.
func (s *Service) StartMeeting(ctx context.Context, id uuid.UUID) (*MeetingAccess, error) {
	appt, err := s.loadFresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Next(appt.Status, TransitionStartMeeting); err != nil {
		return nil, err
	}

	sessionID, err := s.meetings.CreateSession(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	_, err = s.commit(ctx, id, StatusScheduled, StatusInMeeting, StatusChange{
		StartedAt:        &now,
		MeetingSessionID: &sessionID,
	})
	if err != nil {
		if endErr := s.meetings.EndSession(ctx, sessionID); endErr != nil {
			s.logger.Error("failed to end orphaned video session",
				zap.String("session_id", sessionID),
				zap.Error(endErr))
		}
		return nil, err
	}

	s.logEvent(ctx, id, nil, EventMeetingStarted, "meeting started", map[string]any{
		"session_id": sessionID,
	})

	token, err := s.meetings.IssueToken(ctx, sessionID, appt.ProviderID, string(RoleProvider))
	if err != nil {
		return nil, fmt.Errorf("issue meeting token: %w", err)
	}

	return &MeetingAccess{SessionID: sessionID, Token: token}, nil
}

// IssueMeetingToken hands out a join token for an in-progress meeting.
func (s *Service) IssueMeetingToken(ctx context.Context, id, participantID uuid.UUID, role ParticipantRole) (string, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if appt.Status != StatusInMeeting || appt.MeetingSessionID == nil {
		return "", ErrInvalidTransition
	}
	return s.meetings.IssueToken(ctx, *appt.MeetingSessionID, participantID, string(role))
}

// EndMeeting moves InMeeting to AwaitingCompletion and closes the video
// session. Session close failures are logged, never unwound.
func (s *Service) EndMeeting(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := Next(appt.Status, TransitionEndMeeting); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.commit(ctx, id, StatusInMeeting, StatusAwaitingCompletion, StatusChange{EndedAt: &now})
	if err != nil {
		return nil, err
	}

	if appt.MeetingSessionID != nil {
		if err := s.meetings.EndSession(ctx, *appt.MeetingSessionID); err != nil {
			s.logger.Warn("failed to end video session",
				zap.String("appointment_id", id.String()),
				zap.String("session_id", *appt.MeetingSessionID),
				zap.Error(err))
		}
	}

	s.logEvent(ctx, id, nil, EventMeetingEnded, "meeting ended", nil)
	return updated, nil
}

// Complete records the provider's sign-off with diagnosis and notes.
func (s *Service) Complete(ctx context.Context, id, providerID uuid.UUID, diagnosis, prescription, notes *string) (*Appointment, error) {
	appt, err := s.loadFresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.ProviderID != providerID {
		return nil, ErrForbidden
	}
	if _, err := Next(appt.Status, TransitionComplete); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.commit(ctx, id, StatusAwaitingCompletion, StatusCompleted, StatusChange{
		CompletedAt:  &now,
		Diagnosis:    diagnosis,
		Prescription: prescription,
		Notes:        notes,
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, &providerID, EventAppointmentCompleted, "provider marked complete", nil)
	return updated, nil
}

// ProcessRefund refunds part or all of the captured amount. A full refund of
// a Scheduled appointment retires it to Refunded; partial refunds and refunds
// against already-terminal appointments only update the money flags.
func (s *Service) ProcessRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reason string) (*payment.Log, error) {
	appt, err := s.loadFresh(ctx, id)
	if err != nil {
		return nil, err
	}

	entry, err := s.ledger.Refund(ctx, id, amount, "", reason)
	if err != nil {
		return nil, err
	}

	refundedTotal, err := s.ledger.RefundedTotal(ctx, id)
	if err != nil {
		return nil, err
	}
	captured, _, err := s.ledger.CapturedAmount(ctx, id)
	if err != nil {
		return nil, err
	}

	refunded := true
	if _, err := s.repo.UpdatePaymentFlags(ctx, id, PaymentFlags{
		Refunded:     &refunded,
		RefundAmount: &refundedTotal,
	}); err != nil {
		return nil, err
	}

	s.logEvent(ctx, id, nil, EventRefundIssued, "refund issued", map[string]any{
		"amount":         entry.Amount.String(),
		"refunded_total": refundedTotal.String(),
		"reason":         reason,
	})

	if refundedTotal.GreaterThanOrEqual(captured) && CanApply(appt.Status, TransitionFullRefund) {
		if _, err := s.commit(ctx, id, appt.Status, StatusRefunded, StatusChange{}); err != nil {
			return nil, err
		}
		s.logEvent(ctx, id, nil, EventAppointmentRefunded, "fully refunded", nil)
	}

	return entry, nil
}

// ExpirePendingAppointments is run by the worker. Each expiry goes through
// the same serialized terminate path as everything else.
func (s *Service) ExpirePendingAppointments(ctx context.Context) error {
	candidates, err := s.repo.FindExpiredPending(ctx, s.now())
	if err != nil {
		return fmt.Errorf("find expired pending appointments: %w", err)
	}

	for _, appt := range candidates {
		a := appt
		now := s.now()
		if _, err := s.terminate(ctx, &a, TransitionExpire, nil, "provider did not respond in time",
			EventAppointmentExpired, StatusChange{}); err != nil {
			if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrInvalidTransition) {
				continue // someone else moved it first
			}
			s.logger.Error("failed to expire appointment",
				zap.String("appointment_id", a.ID.String()),
				zap.Time("expired_at", now),
				zap.Error(err))
		}
	}

	return nil
}

// AutoCompleteOverdue completes appointments whose meeting ended longer than
// the completion timeout ago without a provider sign-off.
func (s *Service) AutoCompleteOverdue(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.CompletionTimeout)
	candidates, err := s.repo.FindOverdueAwaitingCompletion(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("find overdue awaiting-completion appointments: %w", err)
	}

	for _, appt := range candidates {
		a := appt
		if _, err := s.autoComplete(ctx, &a); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				continue
			}
			s.logger.Error("failed to auto-complete appointment",
				zap.String("appointment_id", a.ID.String()),
				zap.Error(err))
		}
	}

	return nil
}

// Get retrieves a fully hydrated appointment, applying lazy transitions first.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	if _, err := s.loadFresh(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetDetail(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = clampPage(limit, offset)
	return s.repo.ListByProvider(ctx, providerID, limit, offset)
}

func (s *Service) PaymentLogs(ctx context.Context, id uuid.UUID) ([]payment.Log, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.ledger.Logs(ctx, id)
}

// -- internals --

// loadFresh reads the appointment and applies any time-based transition that
// is due (lazy expiry, lazy auto-complete) before the caller's operation
// proceeds against the new state.
func (s *Service) loadFresh(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()

	if appt.Status == StatusPending && appt.ExpiresAt != nil && now.After(*appt.ExpiresAt) {
		updated, err := s.terminate(ctx, appt, TransitionExpire, nil, "provider did not respond in time",
			EventAppointmentExpired, StatusChange{})
		if err != nil {
			// Someone else moved the appointment first; serve their state.
			if errors.Is(err, ErrStatusConflict) || errors.Is(err, ErrInvalidTransition) {
				return s.repo.GetByID(ctx, id)
			}
			return nil, err
		}
		return updated, nil
	}

	if appt.Status == StatusAwaitingCompletion && appt.EndedAt != nil &&
		now.After(appt.EndedAt.Add(s.cfg.CompletionTimeout)) {
		updated, err := s.autoComplete(ctx, appt)
		if err != nil {
			if errors.Is(err, ErrStatusConflict) {
				return s.repo.GetByID(ctx, id)
			}
			return nil, err
		}
		return updated, nil
	}

	return appt, nil
}

func (s *Service) autoComplete(ctx context.Context, appt *Appointment) (*Appointment, error) {
	now := s.now()
	updated, err := s.commit(ctx, appt.ID, StatusAwaitingCompletion, StatusCompleted, StatusChange{CompletedAt: &now})
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, appt.ID, nil, EventAppointmentAutoDone, "auto-completed after timeout", map[string]any{
		"ended_at": appt.EndedAt,
	})
	return updated, nil
}

// terminate is the shared terminal path for Reject, Expire and Cancel. Any
// captured funds are refunded through the gateway and mirrored onto the
// aggregate flags before the status commit, so a lost commit race never
// leaves a settled refund invisible. The commit re-reads under the lock; a
// capture that settled after the caller's read is caught there and refunded
// on the next attempt.
func (s *Service) terminate(ctx context.Context, appt *Appointment, ev Event, actorID *uuid.UUID, reason, eventType string, change StatusChange) (*Appointment, error) {
	if _, err := Next(appt.Status, ev); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.cfg.TransitionRetries; attempt++ {
		if appt.IsPaymentCaptured {
			if err := s.refundRemainder(ctx, appt, actorID, reason); err != nil {
				return nil, err
			}
		}

		var updated *Appointment
		var missedCapture bool

		lockErr := s.locker.WithAppointmentLock(ctx, appt.ID, func(lockCtx context.Context) error {
			fresh, err := s.repo.GetByID(lockCtx, appt.ID)
			if err != nil {
				return err
			}
			to, err := Next(fresh.Status, ev)
			if err != nil {
				return err
			}
			if fresh.IsPaymentCaptured && !appt.IsPaymentCaptured {
				// A charge settled between the caller's read and this lock.
				// Back out and refund it before committing.
				missedCapture = true
				appt = fresh
				return ErrStatusConflict
			}
			updated, err = s.repo.UpdateStatus(lockCtx, appt.ID, fresh.Status, to, change)
			return err
		})
		if lockErr != nil {
			if errors.Is(lockErr, redisclient.ErrLockNotAcquired) {
				return nil, ErrAppointmentBusy
			}
			if missedCapture {
				continue
			}
			if errors.Is(lockErr, ErrStatusConflict) {
				fresh, err := s.repo.GetByID(ctx, appt.ID)
				if err != nil {
					return nil, err
				}
				appt = fresh
				continue
			}
			return nil, lockErr
		}

		s.logEvent(ctx, appt.ID, actorID, eventType, reason, nil)
		return updated, nil
	}

	return nil, ErrStatusConflict
}

// refundRemainder returns whatever part of the captured amount is still held
// and persists the refund flags immediately, keeping the aggregate consistent
// with the ledger even if the surrounding transition later fails.
func (s *Service) refundRemainder(ctx context.Context, appt *Appointment, actorID *uuid.UUID, reason string) error {
	captured, _, err := s.ledger.CapturedAmount(ctx, appt.ID)
	if err != nil {
		return fmt.Errorf("load captured amount: %w", err)
	}
	prior, err := s.ledger.RefundedTotal(ctx, appt.ID)
	if err != nil {
		return fmt.Errorf("load refunded total: %w", err)
	}
	remaining := captured.Sub(prior)
	if !remaining.IsPositive() {
		return nil
	}

	if _, err := s.ledger.Refund(ctx, appt.ID, remaining, "", reason); err != nil {
		return fmt.Errorf("refund before terminating: %w", err)
	}

	refunded := true
	if _, err := s.repo.UpdatePaymentFlags(ctx, appt.ID, PaymentFlags{
		Refunded:     &refunded,
		RefundAmount: &captured,
	}); err != nil {
		return fmt.Errorf("record refund flags: %w", err)
	}

	s.logEvent(ctx, appt.ID, actorID, EventRefundIssued, "refund issued: "+reason, map[string]any{
		"amount": captured.String(),
		"reason": reason,
	})
	return nil
}

// commit runs the status CAS under the per-appointment lock. A conflict is
// retried within the configured budget as long as a re-read still shows the
// row in from; a row that genuinely moved on surfaces the conflict.
func (s *Service) commit(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) (*Appointment, error) {
	var updated *Appointment

	err := s.locker.WithAppointmentLock(ctx, id, func(lockCtx context.Context) error {
		var casErr error
		for attempt := 0; attempt < s.cfg.TransitionRetries; attempt++ {
			u, err := s.repo.UpdateStatus(lockCtx, id, from, to, change)
			if err == nil {
				updated = u
				return nil
			}
			if !errors.Is(err, ErrStatusConflict) {
				return err
			}
			casErr = err

			fresh, rerr := s.repo.GetByID(lockCtx, id)
			if rerr != nil {
				return rerr
			}
			if fresh.Status != from {
				return err
			}
		}
		return casErr
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrAppointmentBusy
		}
		return nil, err
	}

	return updated, nil
}

// logEvent appends to the audit trail. Best effort: a failed write is
// reported to the operational log and never blocks the transition.
func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, actorID *uuid.UUID, eventType, description string, payload map[string]any) {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			s.logger.Warn("failed to marshal event payload",
				zap.String("event_type", eventType),
				zap.Error(err))
			data = nil
		}
	}

	ev := EventLog{
		AppointmentID: appointmentID,
		EventType:     eventType,
		ActorID:       actorID,
		Description:   description,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert appointment event",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
