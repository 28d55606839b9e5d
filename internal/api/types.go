package api

import (
	"encoding/json"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"

	"github.com/caresync/telehealth-backend/internal/appointment"
	"github.com/caresync/telehealth-backend/internal/payment"
)

type BookAppointmentRequest struct {
	PatientID       string  `json:"patient_id"`
	ProviderID      string  `json:"provider_id"`
	CategoryID      string  `json:"category_id"`
	SubscriptionID  *string `json:"subscription_id,omitempty"`
	ScheduledAt     string  `json:"scheduled_at"`
	DurationMinutes int     `json:"duration_minutes"`
	ReasonForVisit  *string `json:"reason_for_visit,omitempty"`
}

func (r BookAppointmentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PatientID, validation.Required, is.UUID),
		validation.Field(&r.ProviderID, validation.Required, is.UUID),
		validation.Field(&r.CategoryID, validation.Required, is.UUID),
		validation.Field(&r.SubscriptionID, is.UUID),
		validation.Field(&r.ScheduledAt, validation.Required, validation.Date(time.RFC3339)),
		validation.Field(&r.DurationMinutes, validation.Required, validation.Min(5), validation.Max(240)),
	)
}

type CapturePaymentRequest struct {
	PaymentMethodRef string `json:"payment_method_ref"`
}

func (r CapturePaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PaymentMethodRef, validation.Required, validation.Length(1, 128)),
	)
}

type ProviderActionRequest struct {
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason,omitempty"`
}

func (r ProviderActionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProviderID, validation.Required, is.UUID),
	)
}

type CancelAppointmentRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

func (r CancelAppointmentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ActorID, validation.Required, is.UUID),
	)
}

type CompleteAppointmentRequest struct {
	ProviderID   string  `json:"provider_id"`
	Diagnosis    *string `json:"diagnosis,omitempty"`
	Prescription *string `json:"prescription,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

func (r CompleteAppointmentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ProviderID, validation.Required, is.UUID),
	)
}

type RefundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

func (r RefundRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Amount, validation.Required),
	)
}

type AddParticipantRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (r AddParticipantRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required, is.UUID),
		validation.Field(&r.Role, validation.Required, validation.In("patient", "provider", "external")),
	)
}

type InviteExternalRequest struct {
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

func (r InviteExternalRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, is.Email),
	)
}

type RespondInvitationRequest struct {
	Accept bool `json:"accept"`
}

type MeetingTokenRequest struct {
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
}

func (r MeetingTokenRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ParticipantID, validation.Required, is.UUID),
		validation.Field(&r.Role, validation.Required, validation.In("patient", "provider", "external")),
	)
}

type AppointmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	PatientID         uuid.UUID  `json:"patient_id"`
	ProviderID        uuid.UUID  `json:"provider_id"`
	CategoryID        uuid.UUID  `json:"category_id"`
	SubscriptionID    *uuid.UUID `json:"subscription_id,omitempty"`
	Status            string     `json:"status"`
	Fee               string     `json:"fee"`
	Currency          string     `json:"currency"`
	IsPaymentCaptured bool       `json:"is_payment_captured"`
	IsRefunded        bool       `json:"is_refunded"`
	RefundAmount      string     `json:"refund_amount"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	DurationMinutes   int        `json:"duration_minutes"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		PatientID:         a.PatientID,
		ProviderID:        a.ProviderID,
		CategoryID:        a.CategoryID,
		SubscriptionID:    a.SubscriptionID,
		Status:            string(a.Status),
		Fee:               a.Fee.String(),
		Currency:          a.Currency,
		IsPaymentCaptured: a.IsPaymentCaptured,
		IsRefunded:        a.IsRefunded,
		RefundAmount:      a.RefundAmount.String(),
		ScheduledAt:       a.ScheduledAt,
		DurationMinutes:   a.DurationMinutes,
		ExpiresAt:         a.ExpiresAt,
		AcceptedAt:        a.AcceptedAt,
		RejectedAt:        a.RejectedAt,
		StartedAt:         a.StartedAt,
		EndedAt:           a.EndedAt,
		CompletedAt:       a.CompletedAt,
		CancelledAt:       a.CancelledAt,
	}
}

type ParticipantResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	ExternalEmail *string    `json:"external_email,omitempty"`
	ExternalPhone *string    `json:"external_phone,omitempty"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	JoinedAt      *time.Time `json:"joined_at,omitempty"`
	LeftAt        *time.Time `json:"left_at,omitempty"`
}

func toParticipantResponse(p *appointment.Participant) ParticipantResponse {
	return ParticipantResponse{
		ID:            p.ID,
		AppointmentID: p.AppointmentID,
		UserID:        p.UserID,
		ExternalEmail: p.ExternalEmail,
		ExternalPhone: p.ExternalPhone,
		Role:          string(p.Role),
		Status:        string(p.Status),
		JoinedAt:      p.JoinedAt,
		LeftAt:        p.LeftAt,
	}
}

type InvitationResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Status        string     `json:"status"`
	ExpiresAt     time.Time  `json:"expires_at"`
	RespondedAt   *time.Time `json:"responded_at,omitempty"`
}

func toInvitationResponse(inv *appointment.Invitation) InvitationResponse {
	return InvitationResponse{
		ID:            inv.ID,
		AppointmentID: inv.AppointmentID,
		Status:        string(inv.Status),
		ExpiresAt:     inv.ExpiresAt,
		RespondedAt:   inv.RespondedAt,
	}
}

type PaymentLogResponse struct {
	ID            int64     `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	Reason        *string   `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toPaymentLogResponse(l *payment.Log) PaymentLogResponse {
	return PaymentLogResponse{
		ID:            l.ID,
		AppointmentID: l.AppointmentID,
		Kind:          string(l.Kind),
		Status:        string(l.Status),
		Amount:        l.Amount.String(),
		Currency:      l.Currency,
		TransactionID: l.TransactionID,
		Reason:        l.Reason,
		CreatedAt:     l.CreatedAt,
	}
}

type EventLogResponse struct {
	ID          int64           `json:"id"`
	EventType   string          `json:"event_type"`
	ActorID     *uuid.UUID      `json:"actor_id,omitempty"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	ReasonForVisit *string               `json:"reason_for_visit,omitempty"`
	Diagnosis      *string               `json:"diagnosis,omitempty"`
	Prescription   *string               `json:"prescription,omitempty"`
	Notes          *string               `json:"notes,omitempty"`
	Participants   []ParticipantResponse `json:"participants"`
	Events         []EventLogResponse    `json:"events"`
}

func toDetailResponse(d *appointment.Detail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{
		AppointmentResponse: toAppointmentResponse(&d.Appointment),
		ReasonForVisit:      d.ReasonForVisit,
		Diagnosis:           d.Diagnosis,
		Prescription:        d.Prescription,
		Notes:               d.Notes,
		Participants:        make([]ParticipantResponse, 0, len(d.Participants)),
		Events:              make([]EventLogResponse, 0, len(d.Events)),
	}
	for i := range d.Participants {
		resp.Participants = append(resp.Participants, toParticipantResponse(&d.Participants[i]))
	}
	for _, ev := range d.Events {
		resp.Events = append(resp.Events, EventLogResponse{
			ID:          ev.ID,
			EventType:   ev.EventType,
			ActorID:     ev.ActorID,
			Description: ev.Description,
			Payload:     ev.Payload,
			CreatedAt:   ev.CreatedAt,
		})
	}
	return resp
}

type MeetingAccessResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type MeetingTokenResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
