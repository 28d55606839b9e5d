package appointment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func strPtr(s string) *string { return &s }

func TestAddParticipant(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	userID := uuid.New()
	p, err := env.svc.AddParticipant(context.Background(), appt.ID, userID, RoleExternal)
	if err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if p.Status != ParticipantInvited {
		t.Errorf("status = %s, want invited", p.Status)
	}
	if p.External() {
		t.Error("participant with a user id must not be external")
	}

	participants, _ := env.repo.GetParticipants(context.Background(), appt.ID)
	if len(participants) != 3 {
		t.Errorf("participants = %d, want 3", len(participants))
	}
}

func TestAddParticipantToTerminalAppointment(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	if _, err := env.svc.Cancel(context.Background(), appt.ID, env.patientID, "done"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.svc.AddParticipant(context.Background(), appt.ID, uuid.New(), RoleExternal); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("want ErrInvalidTransition, got %v", err)
	}
}

func TestInviteExternalNeedsContact(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	if _, err := env.svc.InviteExternal(context.Background(), appt.ID, nil, nil); !errors.Is(err, ErrExternalContact) {
		t.Errorf("want ErrExternalContact, got %v", err)
	}
}

func TestInviteExternalCreatesInvitationAndParticipant(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	inv, err := env.svc.InviteExternal(context.Background(), appt.ID, strPtr("carer@example.com"), nil)
	if err != nil {
		t.Fatalf("InviteExternal: %v", err)
	}
	if inv.Status != InvitationPending {
		t.Errorf("status = %s, want pending", inv.Status)
	}
	if !inv.ExpiresAt.Equal(appt.ScheduledAt) {
		t.Errorf("expires_at = %v, want the scheduled time %v", inv.ExpiresAt, appt.ScheduledAt)
	}

	participants, _ := env.repo.GetParticipants(context.Background(), appt.ID)
	var external *Participant
	for i := range participants {
		if participants[i].External() {
			external = &participants[i]
		}
	}
	if external == nil {
		t.Fatal("external participant not created")
	}
	if external.Role != RoleExternal || external.ExternalEmail == nil {
		t.Errorf("unexpected external participant: %+v", external)
	}
}

func TestRespondToInvitationAccept(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	inv, err := env.svc.InviteExternal(context.Background(), appt.ID, strPtr("carer@example.com"), nil)
	if err != nil {
		t.Fatalf("InviteExternal: %v", err)
	}

	updated, err := env.svc.RespondToInvitation(context.Background(), inv.ID, true)
	if err != nil {
		t.Fatalf("RespondToInvitation: %v", err)
	}
	if updated.Status != InvitationAccepted {
		t.Errorf("status = %s, want accepted", updated.Status)
	}
	if updated.RespondedAt == nil {
		t.Error("responded_at not stamped")
	}

	// A second response is rejected.
	if _, err := env.svc.RespondToInvitation(context.Background(), inv.ID, false); !errors.Is(err, ErrInvitationResolved) {
		t.Errorf("want ErrInvitationResolved, got %v", err)
	}
}

func TestRespondToInvitationDecline(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	inv, err := env.svc.InviteExternal(context.Background(), appt.ID, nil, strPtr("+3531234567"))
	if err != nil {
		t.Fatalf("InviteExternal: %v", err)
	}

	updated, err := env.svc.RespondToInvitation(context.Background(), inv.ID, false)
	if err != nil {
		t.Fatalf("RespondToInvitation: %v", err)
	}
	if updated.Status != InvitationDeclined {
		t.Errorf("status = %s, want declined", updated.Status)
	}
}

func TestRespondToInvitationPastExpiry(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	inv, err := env.svc.InviteExternal(context.Background(), appt.ID, strPtr("carer@example.com"), nil)
	if err != nil {
		t.Fatalf("InviteExternal: %v", err)
	}

	// Past the scheduled time the invitation is dead.
	env.advance(49 * time.Hour)

	if _, err := env.svc.RespondToInvitation(context.Background(), inv.ID, true); !errors.Is(err, ErrInvitationExpired) {
		t.Fatalf("want ErrInvitationExpired, got %v", err)
	}

	stored, _ := env.repo.GetInvitationByID(context.Background(), inv.ID)
	if stored.Status != InvitationExpired {
		t.Errorf("status = %s, want expired", stored.Status)
	}
}

func TestMarkJoinedAndLeft(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	participants, _ := env.repo.GetParticipants(context.Background(), appt.ID)
	target := participants[0]

	joined, err := env.svc.MarkJoined(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("MarkJoined: %v", err)
	}
	if joined.Status != ParticipantJoined || joined.JoinedAt == nil {
		t.Errorf("unexpected joined participant: %+v", joined)
	}

	left, err := env.svc.MarkLeft(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("MarkLeft: %v", err)
	}
	if left.Status != ParticipantLeft || left.LeftAt == nil {
		t.Errorf("unexpected left participant: %+v", left)
	}
}

func TestMarkLeftWithoutJoining(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	participants, _ := env.repo.GetParticipants(context.Background(), appt.ID)
	if _, err := env.svc.MarkLeft(context.Background(), participants[0].ID); !errors.Is(err, ErrNotJoined) {
		t.Errorf("want ErrNotJoined, got %v", err)
	}
}

func TestMarkJoinedOnTerminalAppointment(t *testing.T) {
	env := newTestEnv(t)
	appt := env.book(t)

	participants, _ := env.repo.GetParticipants(context.Background(), appt.ID)

	if _, err := env.svc.Cancel(context.Background(), appt.ID, env.patientID, "done"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.svc.MarkJoined(context.Background(), participants[0].ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("want ErrInvalidTransition, got %v", err)
	}
}
