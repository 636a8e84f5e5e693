// Package notify delivers the admin-facing side effects the booking core
// raises but never renders itself: a Notification row for the salon's
// admin panel, plus an optional email to staff for anything that can't
// wait for the panel to be checked (escalations).
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

// Store persists Notification rows for the admin panel. Tool
// execution (book, manage_customer) and the confirmation scheduler both
// write through this interface; neither owns its own copy of the insert
// logic.
type Store interface {
	Insert(ctx context.Context, n state.Notification) error
}

// Service is the single place admin notifications and staff escalation
// emails are produced.
type Service struct {
	store       Store
	email       EmailSender
	adminEmails []string
	logger      *logging.Logger
}

// NewService wires a notification service. email may be nil (admin email
// is then skipped; the panel notification still gets written).
func NewService(store Store, email EmailSender, adminEmails []string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, email: email, adminEmails: adminEmails, logger: logger}
}

// Notify writes a Notification row of the given type and, for types that
// warrant an immediate human look (escalation, auto-cancellation),
// additionally emails every configured admin address. A Store failure is
// logged and returned; an email failure is only logged. The caller's turn
// is never blocked
// on it succeeding — every call site in this core treats notification
// delivery as fire-and-forget.
func (s *Service) Notify(ctx context.Context, typ state.NotificationType, title, message, entityType, entityID string) error {
	n := state.Notification{
		ID:         uuid.NewString(),
		Type:       typ,
		Title:      title,
		Message:    message,
		EntityType: entityType,
		EntityID:   entityID,
		CreatedAt:  time.Now().UTC(),
	}

	var errOut error
	if s.store != nil {
		if err := s.store.Insert(ctx, n); err != nil {
			s.logger.Error("notify: failed to persist notification", "error", err, "type", typ)
			errOut = fmt.Errorf("notify: insert notification: %w", err)
		}
	}

	if s.requiresEmail(typ) {
		s.sendAdminEmail(ctx, title, message)
	}

	return errOut
}

func (s *Service) requiresEmail(typ state.NotificationType) bool {
	switch typ {
	case state.NotificationEscalation, state.NotificationAutoCancelled:
		return true
	}
	return false
}

func (s *Service) sendAdminEmail(ctx context.Context, subject, body string) {
	if s.email == nil || len(s.adminEmails) == 0 {
		return
	}
	for _, addr := range s.adminEmails {
		if err := s.email.Send(ctx, EmailMessage{To: addr, Subject: subject, Body: body}); err != nil {
			s.logger.Error("notify: failed to email admin", "error", err, "to", addr)
		}
	}
}

// Escalate is the orchestrator's auto-escalation side effect: a
// conversation has either hit the consecutive-error
// threshold or the output auditor caught a hallucinated booking claim.
func (s *Service) Escalate(ctx context.Context, conversationID, reason string) error {
	return s.Notify(ctx, state.NotificationEscalation,
		"Conversación escalada a humano",
		fmt.Sprintf("La conversación %s fue escalada: %s", conversationID, reason),
		"conversation", conversationID)
}

// BookingCreated records a successful booking for the admin panel.
func (s *Service) BookingCreated(ctx context.Context, appointmentID, summary string) error {
	return s.Notify(ctx, state.NotificationAppointmentBooked,
		"Nueva cita reservada", summary, "appointment", appointmentID)
}

// AutoCancelled records the scheduler's auto-cancellation sweep result
// and emails admins since a customer no-show risk just
// materialized without anyone confirming it.
func (s *Service) AutoCancelled(ctx context.Context, appointmentID, summary string) error {
	return s.Notify(ctx, state.NotificationAutoCancelled,
		"Cita cancelada automáticamente", summary, "appointment", appointmentID)
}

// ConfirmationReceived records a customer's reply to the 48h confirmation
// template.
func (s *Service) ConfirmationReceived(ctx context.Context, appointmentID, summary string) error {
	return s.Notify(ctx, state.NotificationConfirmationReceived,
		"Respuesta de confirmación recibida", summary, "appointment", appointmentID)
}
