package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrProviderNotFound    = errors.New("provider not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvitationNotFound  = errors.New("invitation not found")

	// ErrStatusConflict means a compare-and-swap update found the row in a
	// different state than the caller observed. The caller retries or
	// surfaces a conflict, never commits blind.
	ErrStatusConflict = errors.New("appointment status changed concurrently")
)

// StatusChange carries the column values stamped alongside a status CAS.
// Each timestamp is set exactly once, when its transition fires.
type StatusChange struct {
	AcceptedAt  *time.Time
	RejectedAt  *time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	MeetingSessionID *string
	Diagnosis        *string
	Prescription     *string
	Notes            *string
}

// PaymentFlags mirrors the ledger outcome onto the aggregate row.
type PaymentFlags struct {
	Captured     *bool
	Refunded     *bool
	RefundAmount *decimal.Decimal
}

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)

	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error)

	// UpdateStatus is the compare-and-swap at the heart of the state machine:
	// it moves id from one status to another and stamps the change columns in
	// a single statement. ErrStatusConflict if the row exists but is no
	// longer in from; ErrAppointmentNotFound if it does not exist.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, change StatusChange) (*Appointment, error)
	UpdatePaymentFlags(ctx context.Context, id uuid.UUID, flags PaymentFlags) (*Appointment, error)

	// Sweep queries for the expiry worker.
	FindExpiredPending(ctx context.Context, now time.Time) ([]Appointment, error)
	FindOverdueAwaitingCompletion(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Participants
	AddParticipant(ctx context.Context, p *Participant) error
	GetParticipantByID(ctx context.Context, id uuid.UUID) (*Participant, error)
	GetParticipants(ctx context.Context, appointmentID uuid.UUID) ([]Participant, error)
	UpdateParticipantStatus(ctx context.Context, id uuid.UUID, from, to ParticipantStatus, joinedAt, leftAt *time.Time) (*Participant, error)

	// Invitations
	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitationByID(ctx context.Context, id uuid.UUID) (*Invitation, error)
	UpdateInvitationStatus(ctx context.Context, id uuid.UUID, from, to InvitationStatus, respondedAt *time.Time) (*Invitation, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
	ListEvents(ctx context.Context, appointmentID uuid.UUID) ([]EventLog, error)
}
