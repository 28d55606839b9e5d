package appointment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AddParticipant attaches an internal user to an appointment.
func (s *Service) AddParticipant(ctx context.Context, appointmentID, userID uuid.UUID, role ParticipantRole) (*Participant, error) {
	appt, err := s.loadFresh(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	p := &Participant{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		UserID:        &userID,
		Role:          role,
		Status:        ParticipantInvited,
	}
	if err := s.repo.AddParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("add participant: %w", err)
	}

	s.logEvent(ctx, appointmentID, &userID, EventParticipantAdded, "participant added", map[string]any{
		"role": string(role),
	})

	return p, nil
}

// InviteExternal invites a guest identified by email or phone. The invitation
// stays answerable until the appointment's scheduled time.
func (s *Service) InviteExternal(ctx context.Context, appointmentID uuid.UUID, email, phone *string) (*Invitation, error) {
	if email == nil && phone == nil {
		return nil, ErrExternalContact
	}

	appt, err := s.loadFresh(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	inv := &Invitation{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		ExternalEmail: email,
		ExternalPhone: phone,
		Status:        InvitationPending,
		ExpiresAt:     appt.ScheduledAt,
	}
	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}

	p := &Participant{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		ExternalEmail: email,
		ExternalPhone: phone,
		Role:          RoleExternal,
		Status:        ParticipantInvited,
	}
	if err := s.repo.AddParticipant(ctx, p); err != nil {
		return nil, fmt.Errorf("add external participant: %w", err)
	}

	s.logEvent(ctx, appointmentID, nil, EventParticipantInvited, "external participant invited", nil)

	return inv, nil
}

// RespondToInvitation records an accept or decline. An invitation past its
// expiry resolves to Expired first and the response is not honored.
func (s *Service) RespondToInvitation(ctx context.Context, invitationID uuid.UUID, accept bool) (*Invitation, error) {
	inv, err := s.repo.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvitationPending {
		return nil, ErrInvitationResolved
	}

	now := s.now()

	if now.After(inv.ExpiresAt) {
		expired, err := s.repo.UpdateInvitationStatus(ctx, invitationID, InvitationPending, InvitationExpired, nil)
		if err != nil && !errors.Is(err, ErrStatusConflict) {
			return nil, err
		}
		if expired != nil {
			s.logEvent(ctx, inv.AppointmentID, nil, EventInvitationExpired, "invitation expired", nil)
		}
		return nil, ErrInvitationExpired
	}

	to := InvitationAccepted
	eventType := EventInvitationAccepted
	if !accept {
		to = InvitationDeclined
		eventType = EventInvitationDeclined
	}

	updated, err := s.repo.UpdateInvitationStatus(ctx, invitationID, InvitationPending, to, &now)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrInvitationResolved
		}
		return nil, err
	}

	s.logEvent(ctx, inv.AppointmentID, nil, eventType, "invitation response recorded", nil)
	return updated, nil
}

// MarkJoined records that a participant entered the meeting. Joining a
// terminally-closed appointment is rejected.
func (s *Service) MarkJoined(ctx context.Context, participantID uuid.UUID) (*Participant, error) {
	p, err := s.repo.GetParticipantByID(ctx, participantID)
	if err != nil {
		return nil, err
	}

	appt, err := s.loadFresh(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status.Terminal() {
		return nil, ErrInvalidTransition
	}

	now := s.now()
	updated, err := s.repo.UpdateParticipantStatus(ctx, participantID, ParticipantInvited, ParticipantJoined, &now, nil)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}

	s.logEvent(ctx, p.AppointmentID, p.UserID, EventParticipantJoined, "participant joined", nil)
	return updated, nil
}

// MarkLeft records that a previously-joined participant left.
func (s *Service) MarkLeft(ctx context.Context, participantID uuid.UUID) (*Participant, error) {
	p, err := s.repo.GetParticipantByID(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p.Status != ParticipantJoined {
		return nil, ErrNotJoined
	}

	now := s.now()
	updated, err := s.repo.UpdateParticipantStatus(ctx, participantID, ParticipantJoined, ParticipantLeft, nil, &now)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, ErrNotJoined
		}
		return nil, err
	}

	s.logEvent(ctx, p.AppointmentID, p.UserID, EventParticipantLeft, "participant left", nil)
	return updated, nil
}

func (s *Service) GetParticipants(ctx context.Context, appointmentID uuid.UUID) ([]Participant, error) {
	if _, err := s.repo.GetByID(ctx, appointmentID); err != nil {
		return nil, err
	}
	return s.repo.GetParticipants(ctx, appointmentID)
}
