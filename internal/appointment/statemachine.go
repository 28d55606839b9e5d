package appointment

import "errors"

// Event is something that happens to an appointment and may move it to a new
// status. The transition table below is the only authority on which moves are
// legal; everything else in the service funnels through it.
type Event string

const (
	TransitionApprove      Event = "provider_approve"
	TransitionReject       Event = "provider_reject"
	TransitionExpire       Event = "expire"
	TransitionPaymentDone  Event = "payment_confirmed"
	TransitionStartMeeting Event = "start_meeting"
	TransitionEndMeeting   Event = "end_meeting"
	TransitionComplete     Event = "complete"
	TransitionAutoComplete Event = "auto_complete"
	TransitionCancel       Event = "cancel"
	TransitionFullRefund   Event = "full_refund"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status]map[Event]Status{
	StatusPending: {
		TransitionApprove: StatusApproved,
		TransitionReject:  StatusRejected,
		TransitionExpire:  StatusExpired,
		TransitionCancel:  StatusCancelled,
	},
	StatusApproved: {
		TransitionPaymentDone: StatusScheduled,
		TransitionCancel:      StatusCancelled,
	},
	StatusScheduled: {
		TransitionStartMeeting: StatusInMeeting,
		TransitionCancel:       StatusCancelled,
		TransitionFullRefund:   StatusRefunded,
	},
	StatusInMeeting: {
		TransitionEndMeeting: StatusAwaitingCompletion,
	},
	StatusAwaitingCompletion: {
		TransitionComplete:     StatusCompleted,
		TransitionAutoComplete: StatusCompleted,
	},
}

// Next returns the status reached by applying ev in state from. Any edge not
// present in the table is ErrInvalidTransition; terminal statuses have no
// outgoing edges at all.
func Next(from Status, ev Event) (Status, error) {
	edges, ok := transitions[from]
	if !ok {
		return "", ErrInvalidTransition
	}
	to, ok := edges[ev]
	if !ok {
		return "", ErrInvalidTransition
	}
	return to, nil
}

// CanApply reports whether ev is legal in state from.
func CanApply(from Status, ev Event) bool {
	_, err := Next(from, ev)
	return err == nil
}
