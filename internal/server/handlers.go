package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/clinic-notify/internal/adapters/common"
	"github.com/example/clinic-notify/internal/dispatch"
	"github.com/example/clinic-notify/internal/models"
	"github.com/example/clinic-notify/internal/store"
)

// lineSignatureHeader carries the provider's HMAC over the raw body.
const lineSignatureHeader = "X-Line-Signature"

// maxWebhookBody bounds inbound webhook payloads. LINE batches at most
// a few events per request; 1 MiB is generous.
const maxWebhookBody = 1 << 20

type dispatchRequest struct {
	RecipientID string           `json:"recipient_id"`
	Type        string           `json:"notification_type"`
	Appointment *appointmentBody `json:"appointment,omitempty"`
}

type appointmentBody struct {
	ID        string    `json:"id"`
	StartsAt  time.Time `json:"starts_at"`
	Treatment string    `json:"treatment,omitempty"`
	Dentist   string    `json:"dentist,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// handleWebhook verifies and processes a LINE callback. The body is
// read raw before any JSON parsing; the signature covers those exact
// bytes.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	result, err := s.processor.Handle(r.Context(), body, r.Header.Get(lineSignatureHeader))
	switch {
	case errors.Is(err, common.ErrUnauthorized):
		s.writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	case errors.Is(err, common.ErrValidation):
		s.writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleDispatch triggers one notification dispatch and reports the
// full per-channel outcome.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.RecipientID == "" {
		s.writeError(w, http.StatusBadRequest, "recipient_id is required")
		return
	}

	recipient, err := s.directory.Lookup(r.Context(), req.RecipientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "unknown recipient")
			return
		}
		s.logger.Error().Err(err).Str("recipient_id", req.RecipientID).Msg("recipient lookup failed")
		s.writeError(w, http.StatusInternalServerError, "recipient lookup failed")
		return
	}

	var appointment *models.Appointment
	if req.Appointment != nil {
		appointment = &models.Appointment{
			ID:        req.Appointment.ID,
			PatientID: recipient.ID,
			StartsAt:  req.Appointment.StartsAt,
			Treatment: req.Appointment.Treatment,
			Dentist:   req.Appointment.Dentist,
		}
	}

	outcome, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		Recipient:   recipient,
		Type:        models.NotificationType(req.Type),
		Appointment: appointment,
	})
	switch {
	case errors.Is(err, common.ErrNoContact):
		s.writeJSON(w, http.StatusUnprocessableEntity, outcome)
		return
	case errors.Is(err, common.ErrExhausted):
		s.writeJSON(w, http.StatusBadGateway, outcome)
		return
	case errors.Is(err, common.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error().Err(err).Str("recipient_id", recipient.ID).Msg("dispatch failed")
		s.writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	s.writeJSON(w, http.StatusOK, outcome)
}

// handleDeliveries lists the newest delivery attempts for a recipient.
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")
	attempts, err := s.store.ListByRecipient(r.Context(), recipientID, 50)
	if err != nil {
		s.logger.Error().Err(err).Str("recipient_id", recipientID).Msg("delivery listing failed")
		s.writeError(w, http.StatusInternalServerError, "delivery listing failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg})
}
