package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/caresync/telehealth-backend/internal/appointment"
	"github.com/caresync/telehealth-backend/internal/fees"
	"github.com/caresync/telehealth-backend/internal/meeting"
	"github.com/caresync/telehealth-backend/internal/payment"
	redisclient "github.com/caresync/telehealth-backend/internal/redis"
)

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		patientID, _ := uuid.Parse(req.PatientID)
		providerID, _ := uuid.Parse(req.ProviderID)
		categoryID, _ := uuid.Parse(req.CategoryID)
		scheduledAt, _ := time.Parse(time.RFC3339, req.ScheduledAt)

		var subscriptionID *uuid.UUID
		if req.SubscriptionID != nil {
			sid, err := uuid.Parse(*req.SubscriptionID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_subscription_id", "subscription_id must be a valid UUID")
				return
			}
			subscriptionID = &sid
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			PatientID:       patientID,
			ProviderID:      providerID,
			CategoryID:      categoryID,
			SubscriptionID:  subscriptionID,
			ScheduledAt:     scheduledAt,
			DurationMinutes: req.DurationMinutes,
			ReasonForVisit:  req.ReasonForVisit,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(detail))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		patientParam := r.URL.Query().Get("patient_id")
		providerParam := r.URL.Query().Get("provider_id")

		var (
			appts []appointment.Appointment
			err   error
		)
		switch {
		case patientParam != "":
			patientID, perr := uuid.Parse(patientParam)
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByPatient(r.Context(), patientID, limit, offset)
		case providerParam != "":
			providerID, perr := uuid.Parse(providerParam)
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
				return
			}
			appts, err = svc.ListByProvider(r.Context(), providerID, limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or provider_id query parameter is required")
			return
		}
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func capturePaymentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req CapturePaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		appt, err := svc.CapturePayment(r.Context(), id, req.PaymentMethodRef)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func acceptAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req ProviderActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		providerID, _ := uuid.Parse(req.ProviderID)

		appt, err := svc.ProviderAccept(r.Context(), id, providerID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rejectAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req ProviderActionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		providerID, _ := uuid.Parse(req.ProviderID)

		appt, err := svc.ProviderReject(r.Context(), id, providerID, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		actorID, _ := uuid.Parse(req.ActorID)

		appt, err := svc.Cancel(r.Context(), id, actorID, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func startMeetingHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		access, err := svc.StartMeeting(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, MeetingAccessResponse{
			SessionID: access.SessionID,
			Token:     access.Token,
		})
	}
}

func meetingTokenHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req MeetingTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		participantID, _ := uuid.Parse(req.ParticipantID)

		token, err := svc.IssueMeetingToken(r.Context(), id, participantID, appointment.ParticipantRole(req.Role))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, MeetingTokenResponse{Token: token})
	}
}

func endMeetingHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.EndMeeting(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req CompleteAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		providerID, _ := uuid.Parse(req.ProviderID)

		appt, err := svc.Complete(r.Context(), id, providerID, req.Diagnosis, req.Prescription, req.Notes)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func refundAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req RefundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		amount, err := decimal.NewFromString(req.Amount)
		if err != nil || !amount.IsPositive() {
			writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be a positive decimal string")
			return
		}

		entry, err := svc.ProcessRefund(r.Context(), id, amount, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPaymentLogResponse(entry))
	}
}

func listPaymentLogsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		logs, err := svc.PaymentLogs(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]PaymentLogResponse, 0, len(logs))
		for i := range logs {
			resp = append(resp, toPaymentLogResponse(&logs[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listParticipantsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		participants, err := svc.GetParticipants(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]ParticipantResponse, 0, len(participants))
		for i := range participants {
			resp = append(resp, toParticipantResponse(&participants[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func addParticipantHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req AddParticipantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		userID, _ := uuid.Parse(req.UserID)

		p, err := svc.AddParticipant(r.Context(), id, userID, appointment.ParticipantRole(req.Role))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toParticipantResponse(p))
	}
}

func inviteExternalHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req InviteExternalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		inv, err := svc.InviteExternal(r.Context(), id, req.Email, req.Phone)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toInvitationResponse(inv))
	}
}

func respondInvitationHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req RespondInvitationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		inv, err := svc.RespondToInvitation(r.Context(), id, req.Accept)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toInvitationResponse(inv))
	}
}

func participantJoinHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		p, err := svc.MarkJoined(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toParticipantResponse(p))
	}
}

func participantLeaveHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		p, err := svc.MarkLeft(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toParticipantResponse(p))
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrParticipantNotFound):
		writeError(w, http.StatusNotFound, "participant_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvitationNotFound):
		writeError(w, http.StatusNotFound, "invitation_not_found", err.Error())
	case errors.Is(err, fees.ErrPricingNotFound):
		writeError(w, http.StatusNotFound, "pricing_not_found", err.Error())
	case errors.Is(err, appointment.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, payment.ErrPaymentDeclined):
		writeError(w, http.StatusPaymentRequired, "payment_declined", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrStatusConflict):
		writeError(w, http.StatusConflict, "status_conflict", err.Error())
	case errors.Is(err, payment.ErrAlreadyCaptured):
		writeError(w, http.StatusConflict, "payment_already_captured", err.Error())
	case errors.Is(err, appointment.ErrNothingToCapture):
		writeError(w, http.StatusConflict, "nothing_to_capture", err.Error())
	case errors.Is(err, appointment.ErrInvitationResolved):
		writeError(w, http.StatusConflict, "invitation_already_resolved", err.Error())
	case errors.Is(err, appointment.ErrNotJoined):
		writeError(w, http.StatusConflict, "participant_not_joined", err.Error())
	case errors.Is(err, appointment.ErrAppointmentBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "appointment_busy", "appointment is currently being modified, please retry shortly")
	case errors.Is(err, appointment.ErrInvitationExpired):
		writeError(w, http.StatusGone, "invitation_expired", err.Error())
	case errors.Is(err, payment.ErrNothingToRefund):
		writeError(w, http.StatusUnprocessableEntity, "nothing_to_refund", err.Error())
	case errors.Is(err, payment.ErrExceedsCapturedAmount):
		writeError(w, http.StatusUnprocessableEntity, "refund_exceeds_captured_amount", err.Error())
	case errors.Is(err, payment.ErrCurrencyMismatch):
		writeError(w, http.StatusUnprocessableEntity, "currency_mismatch", err.Error())
	case errors.Is(err, appointment.ErrExternalContact):
		writeError(w, http.StatusBadRequest, "missing_contact", err.Error())
	case errors.Is(err, fees.ErrSubscriptionNotApplicable):
		writeError(w, http.StatusUnprocessableEntity, "subscription_not_applicable", err.Error())
	case errors.Is(err, fees.ErrInvalidPricing):
		writeError(w, http.StatusInternalServerError, "invalid_pricing_configuration", err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "payment_gateway_unavailable", err.Error())
	case errors.Is(err, meeting.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "meeting_gateway_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
