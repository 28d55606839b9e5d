package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

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

const appointmentColumns = `id, patient_id, provider_id, category_id, subscription_id, status,
	fee, currency, is_payment_captured, is_refunded, refund_amount,
	scheduled_at, duration_minutes, reason_for_visit,
	meeting_session_id, diagnosis, prescription, notes,
	expires_at, accepted_at, rejected_at, started_at, ended_at, completed_at, cancelled_at,
	created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.CategoryID,
		&a.SubscriptionID,
		&a.Status,
		&a.Fee,
		&a.Currency,
		&a.IsPaymentCaptured,
		&a.IsRefunded,
		&a.RefundAmount,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.ReasonForVisit,
		&a.MeetingSessionID,
		&a.Diagnosis,
		&a.Prescription,
		&a.Notes,
		&a.ExpiresAt,
		&a.AcceptedAt,
		&a.RejectedAt,
		&a.StartedAt,
		&a.EndedAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanParticipant(row pgx.Row) (*Participant, error) {
	var p Participant

	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.UserID,
		&p.ExternalEmail,
		&p.ExternalPhone,
		&p.Role,
		&p.Status,
		&p.JoinedAt,
		&p.LeftAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation

	err := row.Scan(
		&inv.ID,
		&inv.AppointmentID,
		&inv.UserID,
		&inv.ExternalEmail,
		&inv.ExternalPhone,
		&inv.Status,
		&inv.ExpiresAt,
		&inv.RespondedAt,
		&inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}

	return &inv, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Specialty, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, provider_id, category_id, subscription_id, status,
			fee, currency, is_payment_captured, is_refunded, refund_amount,
			scheduled_at, duration_minutes, reason_for_visit, expires_at,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, 0, $9, $10, $11, $12, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.ProviderID, a.CategoryID, a.SubscriptionID, a.Status,
		a.Fee, a.Currency, a.ScheduledAt, a.DurationMinutes, a.ReasonForVisit, a.ExpiresAt)

	created, err := scanAppointment(row)
	if err != nil {
		return err
	}
	*a = *created
	return nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	appt, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &Detail{Appointment: *appt}

	if p, err := r.GetPatientByID(ctx, appt.PatientID); err == nil {
		detail.Patient = p
	}
	if p, err := r.GetProviderByID(ctx, appt.ProviderID); err == nil {
		detail.Provider = p
	}

	participants, err := r.GetParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Participants = participants

	events, err := r.ListEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Events = events

	return detail, nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(ctx, `patient_id`, patientID, limit, offset)
}

func (r *PgRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.list(ctx, `provider_id`, providerID, limit, offset)
}

func (r *PgRepository) list(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+column+` = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3
	`, id, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3,
		    accepted_at        = COALESCE($4, accepted_at),
		    rejected_at        = COALESCE($5, rejected_at),
		    started_at         = COALESCE($6, started_at),
		    ended_at           = COALESCE($7, ended_at),
		    completed_at       = COALESCE($8, completed_at),
		    cancelled_at       = COALESCE($9, cancelled_at),
		    meeting_session_id = COALESCE($10, meeting_session_id),
		    diagnosis          = COALESCE($11, diagnosis),
		    prescription       = COALESCE($12, prescription),
		    notes              = COALESCE($13, notes),
		    updated_at         = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, from, to,
		change.AcceptedAt, change.RejectedAt, change.StartedAt, change.EndedAt,
		change.CompletedAt, change.CancelledAt,
		change.MeetingSessionID, change.Diagnosis, change.Prescription, change.Notes)

	updated, err := scanAppointment(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// No row matched: distinguish a concurrent status change from a missing
	// appointment so callers can retry instead of 404ing.
	var current Status
	checkErr := r.pool.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1`, id).Scan(&current)
	if checkErr == nil {
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrStatusConflict, from, current)
	}
	if errors.Is(checkErr, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return nil, checkErr
}

func (r *PgRepository) UpdatePaymentFlags(ctx context.Context, id uuid.UUID, flags PaymentFlags) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET is_payment_captured = COALESCE($2, is_payment_captured),
		    is_refunded         = COALESCE($3, is_refunded),
		    refund_amount       = COALESCE($4, refund_amount),
		    updated_at          = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, flags.Captured, flags.Refunded, flags.RefundAmount)

	return scanAppointment(row)
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) FindOverdueAwaitingCompletion(ctx context.Context, cutoff time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'awaiting_completion'
		  AND ended_at IS NOT NULL
		  AND ended_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Participants

const participantColumns = `id, appointment_id, user_id, external_email, external_phone, role, status, joined_at, left_at, created_at, updated_at`

func (r *PgRepository) AddParticipant(ctx context.Context, p *Participant) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_participants (id, appointment_id, user_id, external_email, external_phone, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+participantColumns+`
	`, p.ID, p.AppointmentID, p.UserID, p.ExternalEmail, p.ExternalPhone, p.Role, p.Status)

	created, err := scanParticipant(row)
	if err != nil {
		return err
	}
	*p = *created
	return nil
}

func (r *PgRepository) GetParticipantByID(ctx context.Context, id uuid.UUID) (*Participant, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+participantColumns+`
		FROM appointment_participants
		WHERE id = $1
	`, id)
	return scanParticipant(row)
}

func (r *PgRepository) GetParticipants(ctx context.Context, appointmentID uuid.UUID) ([]Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+participantColumns+`
		FROM appointment_participants
		WHERE appointment_id = $1
		ORDER BY created_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) UpdateParticipantStatus(ctx context.Context, id uuid.UUID, from, to ParticipantStatus, joinedAt, leftAt *time.Time) (*Participant, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointment_participants
		SET status = $3,
		    joined_at  = COALESCE($4, joined_at),
		    left_at    = COALESCE($5, left_at),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+participantColumns+`
	`, id, from, to, joinedAt, leftAt)

	p, err := scanParticipant(row)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrParticipantNotFound) {
		return nil, err
	}

	var exists bool
	checkErr := r.pool.QueryRow(ctx, `SELECT true FROM appointment_participants WHERE id = $1`, id).Scan(&exists)
	if checkErr == nil {
		return nil, ErrStatusConflict
	}
	if errors.Is(checkErr, pgx.ErrNoRows) {
		return nil, ErrParticipantNotFound
	}
	return nil, checkErr
}

// Invitations

const invitationColumns = `id, appointment_id, user_id, external_email, external_phone, status, expires_at, responded_at, created_at`

func (r *PgRepository) CreateInvitation(ctx context.Context, inv *Invitation) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointment_invitations (id, appointment_id, user_id, external_email, external_phone, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		RETURNING `+invitationColumns+`
	`, inv.ID, inv.AppointmentID, inv.UserID, inv.ExternalEmail, inv.ExternalPhone, inv.Status, inv.ExpiresAt)

	created, err := scanInvitation(row)
	if err != nil {
		return err
	}
	*inv = *created
	return nil
}

func (r *PgRepository) GetInvitationByID(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+invitationColumns+`
		FROM appointment_invitations
		WHERE id = $1
	`, id)
	return scanInvitation(row)
}

func (r *PgRepository) UpdateInvitationStatus(ctx context.Context, id uuid.UUID, from, to InvitationStatus, respondedAt *time.Time) (*Invitation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointment_invitations
		SET status = $3,
		    responded_at = COALESCE($4, responded_at)
		WHERE id = $1
		  AND status = $2
		RETURNING `+invitationColumns+`
	`, id, from, to, respondedAt)

	inv, err := scanInvitation(row)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, ErrInvitationNotFound) {
		return nil, err
	}

	var exists bool
	checkErr := r.pool.QueryRow(ctx, `SELECT true FROM appointment_invitations WHERE id = $1`, id).Scan(&exists)
	if checkErr == nil {
		return nil, ErrStatusConflict
	}
	if errors.Is(checkErr, pgx.ErrNoRows) {
		return nil, ErrInvitationNotFound
	}
	return nil, checkErr
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_events (appointment_id, event_type, actor_id, description, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, ev.AppointmentID, ev.EventType, ev.ActorID, ev.Description, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert appointment event: %w", err)
	}

	return nil
}

func (r *PgRepository) ListEvents(ctx context.Context, appointmentID uuid.UUID) ([]EventLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, event_type, actor_id, description, payload, created_at
		FROM appointment_events
		WHERE appointment_id = $1
		ORDER BY id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []EventLog
	for rows.Next() {
		var ev EventLog
		if err := rows.Scan(&ev.ID, &ev.AppointmentID, &ev.EventType, &ev.ActorID, &ev.Description, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
