package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending            Status = "pending"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
	StatusScheduled          Status = "scheduled"
	StatusInMeeting          Status = "in_meeting"
	StatusAwaitingCompletion Status = "awaiting_completion"
	StatusCompleted          Status = "completed"
	StatusExpired            Status = "expired"
	StatusCancelled          Status = "cancelled"
	StatusRefunded           Status = "refunded"
)

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusRejected:  true,
	StatusExpired:   true,
	StatusCancelled: true,
	StatusRefunded:  true,
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return terminalStatuses[s]
}

type ParticipantRole string

const (
	RolePatient  ParticipantRole = "patient"
	RoleProvider ParticipantRole = "provider"
	RoleExternal ParticipantRole = "external"
)

type ParticipantStatus string

const (
	ParticipantInvited ParticipantStatus = "invited"
	ParticipantJoined  ParticipantStatus = "joined"
	ParticipantLeft    ParticipantStatus = "left"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment is the aggregate root. Status history lives in the event log,
// never in versions of this row. Rows are never deleted; cancellation and
// expiry are statuses.
type Appointment struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	ProviderID     uuid.UUID
	CategoryID     uuid.UUID
	SubscriptionID *uuid.UUID

	Status Status

	Fee               decimal.Decimal
	Currency          string
	IsPaymentCaptured bool
	IsRefunded        bool
	RefundAmount      decimal.Decimal

	ScheduledAt     time.Time
	DurationMinutes int
	ReasonForVisit  *string

	MeetingSessionID *string
	Diagnosis        *string
	Prescription     *string
	Notes            *string

	ExpiresAt   *time.Time
	AcceptedAt  *time.Time
	RejectedAt  *time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	CompletedAt *time.Time
	CancelledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Participant is one attendee of an appointment. Exactly one of UserID or the
// external contact pair is set.
type Participant struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	UserID        *uuid.UUID
	ExternalEmail *string
	ExternalPhone *string
	Role          ParticipantRole
	Status        ParticipantStatus
	JoinedAt      *time.Time
	LeftAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// External reports whether the participant is identified by contact details
// rather than an internal user id.
func (p *Participant) External() bool {
	return p.UserID == nil
}

type Invitation struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	UserID        *uuid.UUID
	ExternalEmail *string
	ExternalPhone *string
	Status        InvitationStatus
	ExpiresAt     time.Time
	RespondedAt   *time.Time
	CreatedAt     time.Time
}

// EventLog is one append-only audit entry, emitted on every transition and
// side effect.
type EventLog struct {
	ID            int64
	AppointmentID uuid.UUID
	EventType     string
	ActorID       *uuid.UUID
	Description   string
	Payload       []byte
	CreatedAt     time.Time
}

type Detail struct {
	Appointment
	Patient      *Patient
	Provider     *Provider
	Participants []Participant
	Events       []EventLog
}
