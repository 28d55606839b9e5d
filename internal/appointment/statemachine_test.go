package appointment

import (
	"errors"
	"math/rand"
	"testing"
)

func TestNextLegalTransitions(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		want Status
	}{
		{StatusPending, TransitionApprove, StatusApproved},
		{StatusPending, TransitionReject, StatusRejected},
		{StatusPending, TransitionExpire, StatusExpired},
		{StatusPending, TransitionCancel, StatusCancelled},
		{StatusApproved, TransitionPaymentDone, StatusScheduled},
		{StatusApproved, TransitionCancel, StatusCancelled},
		{StatusScheduled, TransitionStartMeeting, StatusInMeeting},
		{StatusScheduled, TransitionCancel, StatusCancelled},
		{StatusScheduled, TransitionFullRefund, StatusRefunded},
		{StatusInMeeting, TransitionEndMeeting, StatusAwaitingCompletion},
		{StatusAwaitingCompletion, TransitionComplete, StatusCompleted},
		{StatusAwaitingCompletion, TransitionAutoComplete, StatusCompleted},
	}

	for _, c := range cases {
		got, err := Next(c.from, c.ev)
		if err != nil {
			t.Errorf("Next(%s, %s): unexpected error %v", c.from, c.ev, err)
			continue
		}
		if got != c.want {
			t.Errorf("Next(%s, %s) = %s, want %s", c.from, c.ev, got, c.want)
		}
	}
}

func TestNextIllegalTransitions(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
	}{
		{StatusPending, TransitionStartMeeting},
		{StatusPending, TransitionComplete},
		{StatusApproved, TransitionApprove},
		{StatusScheduled, TransitionReject},
		{StatusInMeeting, TransitionCancel},
		{StatusAwaitingCompletion, TransitionCancel},
	}

	for _, c := range cases {
		if _, err := Next(c.from, c.ev); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Next(%s, %s): want ErrInvalidTransition, got %v", c.from, c.ev, err)
		}
	}
}

func TestTerminalStatusesHaveNoOutgoingEdges(t *testing.T) {
	events := []Event{
		TransitionApprove, TransitionReject, TransitionExpire, TransitionPaymentDone,
		TransitionStartMeeting, TransitionEndMeeting, TransitionComplete,
		TransitionAutoComplete, TransitionCancel, TransitionFullRefund,
	}

	for status := range terminalStatuses {
		for _, ev := range events {
			if CanApply(status, ev) {
				t.Errorf("terminal status %s accepts event %s", status, ev)
			}
		}
	}
}

// Random event sequences must never escape the table: every reachable status
// is either a table key or terminal, and once terminal nothing applies.
func TestRandomEventSequencesStayClosed(t *testing.T) {
	events := []Event{
		TransitionApprove, TransitionReject, TransitionExpire, TransitionPaymentDone,
		TransitionStartMeeting, TransitionEndMeeting, TransitionComplete,
		TransitionAutoComplete, TransitionCancel, TransitionFullRefund,
	}

	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 500; run++ {
		status := StatusPending
		for step := 0; step < 20; step++ {
			ev := events[rng.Intn(len(events))]
			next, err := Next(status, ev)
			if err != nil {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("unexpected error type: %v", err)
				}
				continue
			}
			if status.Terminal() {
				t.Fatalf("transition %s fired out of terminal status %s", ev, status)
			}
			status = next
		}
	}
}
